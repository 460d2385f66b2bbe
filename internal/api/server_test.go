package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-net/chorus-bridge/internal/activitypub"
	"github.com/chorus-net/chorus-bridge/internal/bridge"
	"github.com/chorus-net/chorus-bridge/internal/conductor"
	"github.com/chorus-net/chorus-bridge/internal/database"
	"github.com/chorus-net/chorus-bridge/internal/middleware"
	"github.com/chorus-net/chorus-bridge/internal/proto"
	"github.com/chorus-net/chorus-bridge/internal/security"
	"github.com/chorus-net/chorus-bridge/internal/trust"
)

const stageID = "stage-a"

type edgeFixture struct {
	router http.Handler
	repo   *database.Memory
	cond   *conductor.InMemoryClient
	trust  *trust.Store
	key    ed25519.PrivateKey
}

func newEdgeFixture(t *testing.T) *edgeFixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := trust.NewStore()
	require.NoError(t, store.Add(stageID, pub))

	repo := database.NewMemory()
	cond := conductor.NewInMemoryClient()
	core := bridge.New(bridge.Config{InstanceID: "bridge-1"}, repo, cond, store,
		activitypub.NewTranslator(1700000000, "bridge.example"), nil)
	server := NewServer(core, repo, nil, nil, nil)
	return &edgeFixture{
		router: server.Router(),
		repo:   repo,
		cond:   cond,
		trust:  store,
		key:    priv,
	}
}

func (f *edgeFixture) signedEnvelope(t *testing.T, messageType string, inner any) []byte {
	t.Helper()
	data, err := proto.Marshal(inner)
	require.NoError(t, err)
	env := proto.FederationEnvelope{
		SenderInstance: stageID,
		Nonce:          1,
		MessageType:    messageType,
		MessageData:    data,
		Signature:      security.Sign(data, f.key),
	}
	raw, err := env.Encode()
	require.NoError(t, err)
	return raw
}

func (f *edgeFixture) send(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(middleware.InstanceIDHeader, stageID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestFederationSendAccepted(t *testing.T) {
	f := newEdgeFixture(t)
	raw := f.signedEnvelope(t, proto.TypePostAnnouncement, proto.PostAnnouncement{
		PostID: []byte{1}, CreationDay: 50, OrderIndex: 2,
	})

	rec := f.send(t, http.MethodPost, "/api/bridge/federation/send", raw, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Status      string `json:"status"`
		EventHash   string `json:"event_hash"`
		Epoch       int64  `json:"epoch"`
		Fingerprint string `json:"fingerprint"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, int64(50), resp.Epoch)
	assert.NotEmpty(t, resp.EventHash)
	assert.NotEmpty(t, resp.Fingerprint)
}

func TestFederationSendStatusMapping(t *testing.T) {
	f := newEdgeFixture(t)

	// Malformed bytes: 400.
	rec := f.send(t, http.MethodPost, "/api/bridge/federation/send", []byte("junk"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown sender: 403.
	raw := f.signedEnvelope(t, proto.TypePostAnnouncement, proto.PostAnnouncement{PostID: []byte{1}, CreationDay: 50})
	f.trust.Remove(stageID)
	rec = f.send(t, http.MethodPost, "/api/bridge/federation/send", raw, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Replay: 409.
	pub := f.key.Public().(ed25519.PublicKey)
	require.NoError(t, f.trust.Add(stageID, pub))
	rec = f.send(t, http.MethodPost, "/api/bridge/federation/send", raw, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.send(t, http.MethodPost, "/api/bridge/federation/send", raw, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFederationSendConductorDown(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	store := trust.NewStore()
	require.NoError(t, store.Add(stageID, pub))

	repo := database.NewMemory()
	pool, err := conductor.NewPool([]conductor.Client{downClient{}}, conductor.DefaultPoolConfig())
	require.NoError(t, err)
	defer pool.Close()

	core := bridge.New(bridge.Config{InstanceID: "bridge-1"}, repo, pool, store,
		activitypub.NewTranslator(1700000000, "bridge.example"), nil)
	server := NewServer(core, repo, nil, nil, nil)

	data, err := proto.Marshal(proto.PostAnnouncement{PostID: []byte{9}, CreationDay: 50})
	require.NoError(t, err)
	env := proto.FederationEnvelope{
		SenderInstance: stageID,
		Nonce:          1,
		MessageType:    proto.TypePostAnnouncement,
		MessageData:    data,
		Signature:      security.Sign(data, priv),
	}
	raw, err := env.Encode()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/bridge/federation/send", bytes.NewReader(raw))
	req.Header.Set(middleware.InstanceIDHeader, stageID)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// downClient always fails, driving the pool to ErrNoHealthyBackend.
type downClient struct{}

func (downClient) SubmitEvent(ctx context.Context, event conductor.Event) (conductor.Receipt, error) {
	return conductor.Receipt{}, conductor.ErrBackendUnavailable
}
func (downClient) SubmitEventsBatch(ctx context.Context, events []conductor.Event) ([]conductor.Receipt, error) {
	return nil, conductor.ErrBackendUnavailable
}
func (downClient) GetDayProof(ctx context.Context, dayNumber int64) (*conductor.DayProof, error) {
	return nil, conductor.ErrBackendUnavailable
}
func (downClient) HealthCheck(ctx context.Context) bool { return false }
func (downClient) Close() error                         { return nil }

func TestDayProofEndpoint(t *testing.T) {
	f := newEdgeFixture(t)

	rec := f.send(t, http.MethodGet, "/api/bridge/day-proof/-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.send(t, http.MethodGet, "/api/bridge/day-proof/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.send(t, http.MethodGet, "/api/bridge/day-proof/9", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.cond.PutDayProof(conductor.DayProof{DayNumber: 9, Proof: "pp", ProofHash: "hh", Canonical: true})
	rec = f.send(t, http.MethodGet, "/api/bridge/day-proof/9", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conductor", resp["source"])
}

func TestPeersEndpoint(t *testing.T) {
	f := newEdgeFixture(t)
	rec := f.send(t, http.MethodGet, "/api/bridge/federation/peers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Instances map[string]string `json:"instances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Instances, stageID)
}

func TestExportEndpoint(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	store := trust.NewStore()
	require.NoError(t, store.Add(stageID, pub))

	repo := database.NewMemory()
	core := bridge.New(bridge.Config{
		InstanceID:         "bridge-1",
		ActivityPubTargets: []string{"https://relay.example/inbox"},
	}, repo, conductor.NewInMemoryClient(), store,
		activitypub.NewTranslator(1700000000, "bridge.example"), nil)
	server := NewServer(core, repo, nil, nil, nil)

	postBytes, err := proto.Marshal(proto.PostAnnouncement{PostID: []byte{7}, CreationDay: 60})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"chorus_post": hex.EncodeToString(postBytes),
		"body_md":     "hello",
		"signature":   security.Sign(postBytes, priv),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/bridge/export", bytes.NewReader(body))
	req.Header.Set(middleware.InstanceIDHeader, stageID)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, 1, repo.ExportCount())
}

func TestModerationEndpoint(t *testing.T) {
	f := newEdgeFixture(t)
	eventBytes, err := proto.Marshal(proto.ModerationEvent{
		TargetRef: []byte{1}, Action: "remove_post", CreationDay: 70,
	})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"moderation_event": hex.EncodeToString(eventBytes),
		"signature":        security.Sign(eventBytes, f.key),
	})
	require.NoError(t, err)

	rec := f.send(t, http.MethodPost, "/api/bridge/moderation/event", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.NotEmpty(t, resp["event_id"])
	assert.Equal(t, float64(70), resp["epoch"])
}

func TestPublicReadsBypassAuth(t *testing.T) {
	stagePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	inboundPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := trust.NewStore()
	require.NoError(t, store.Add(stageID, stagePub))

	repo := database.NewMemory()
	cond := conductor.NewInMemoryClient()
	core := bridge.New(bridge.Config{InstanceID: "bridge-1"}, repo, cond, store,
		activitypub.NewTranslator(1700000000, "bridge.example"), nil)
	auth := middleware.NewJWTAuthenticator("bridge-1", inboundPub, repo, true)
	router := NewServer(core, repo, nil, auth, nil).Router()

	cond.PutDayProof(conductor.DayProof{DayNumber: 9, Proof: "pp", ProofHash: "hh", Canonical: true})

	// Day proofs and the peer list answer bare GETs: no instance header, no
	// token. An unenrolled instance bootstraps from exactly these reads.
	req := httptest.NewRequest(http.MethodGet, "/api/bridge/day-proof/9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/bridge/federation/peers", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Writes keep the full chain: no instance header is a 400, a header
	// without a bearer token is a 401.
	req = httptest.NewRequest(http.MethodPost, "/api/bridge/federation/send", bytes.NewReader([]byte("{}")))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/bridge/federation/send", bytes.NewReader([]byte("{}")))
	req.Header.Set(middleware.InstanceIDHeader, stageID)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOversizedBodiesRejected(t *testing.T) {
	f := newEdgeFixture(t)
	big := bytes.Repeat([]byte{'a'}, maxEnvelopeBytes+1)

	rec := f.send(t, http.MethodPost, "/api/bridge/federation/send", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	rec = f.send(t, http.MethodPost, "/api/bridge/export", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	f := newEdgeFixture(t)

	rec := f.send(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.send(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

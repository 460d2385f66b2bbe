package bridge

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-net/chorus-bridge/internal/activitypub"
	"github.com/chorus-net/chorus-bridge/internal/conductor"
	"github.com/chorus-net/chorus-bridge/internal/database"
	"github.com/chorus-net/chorus-bridge/internal/proto"
	"github.com/chorus-net/chorus-bridge/internal/security"
	"github.com/chorus-net/chorus-bridge/internal/trust"
)

type fixture struct {
	svc   *Service
	repo  *database.Memory
	cond  *conductor.InMemoryClient
	trust *trust.Store
	key   ed25519.PrivateKey
}

const senderInstance = "stage-a"

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := trust.NewStore()
	require.NoError(t, store.Add(senderInstance, pub))

	if cfg.InstanceID == "" {
		cfg.InstanceID = "bridge-1"
	}
	repo := database.NewMemory()
	cond := conductor.NewInMemoryClient()
	translator := activitypub.NewTranslator(1700000000, "bridge.example")
	return &fixture{
		svc:   New(cfg, repo, cond, store, translator, nil),
		repo:  repo,
		cond:  cond,
		trust: store,
		key:   priv,
	}
}

// envelope builds a signed envelope from an inner message.
func (f *fixture) envelope(t *testing.T, messageType string, inner any) []byte {
	t.Helper()
	data, err := proto.Marshal(inner)
	require.NoError(t, err)
	env := proto.FederationEnvelope{
		SenderInstance: senderInstance,
		Nonce:          1,
		MessageType:    messageType,
		MessageData:    data,
		Signature:      security.Sign(data, f.key),
	}
	raw, err := env.Encode()
	require.NoError(t, err)
	return raw
}

func samplePost() proto.PostAnnouncement {
	return proto.PostAnnouncement{
		PostID:       []byte{0x01, 0x02},
		AuthorPubkey: []byte{0x03, 0x04},
		ContentHash:  []byte{0x05, 0x06},
		OrderIndex:   7,
		CreationDay:  120,
	}
}

func TestProcessEnvelopeHappyPath(t *testing.T) {
	f := newFixture(t, Config{
		FederationTargets: []FederationTarget{
			{InstanceID: "stage-b", URL: "https://stage-b.example"},
			{InstanceID: senderInstance, URL: "https://stage-a.example"},
		},
	})
	raw := f.envelope(t, proto.TypePostAnnouncement, samplePost())

	receipt, fingerprint, err := f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.EventHash)
	assert.Equal(t, int64(120), receipt.Epoch, "epoch must come from creation_day")
	assert.NotEmpty(t, fingerprint)

	// Conductor saw exactly one event with the inner payload.
	events := f.cond.Events()
	require.Len(t, events, 1)
	assert.Equal(t, proto.TypePostAnnouncement, events[0].EventType)
	assert.Equal(t, senderInstance, events[0].Metadata["sender_instance"])

	// Dispatch persisted the post.
	posts := f.repo.FederatedPosts()
	require.Len(t, posts, 1)
	assert.Equal(t, "0102", posts[0].PostID)
	assert.Equal(t, senderInstance, posts[0].SourceInstance)

	// Fan-out enqueued for stage-b only; the sender is skipped.
	assert.Equal(t, 1, f.repo.OutboundCount())
	row, ok := f.repo.OutboundByID(1)
	require.True(t, ok)
	assert.Equal(t, "stage-b", row.TargetInstance)

	queued, err := proto.DecodeEnvelope(row.RawEnvelope)
	require.NoError(t, err)
	assert.Equal(t, "bridge-1", queued.SenderInstance)
	assert.Empty(t, queued.Signature, "worker re-signs at send time")

	identifier, err := proto.OutboundIdentifier(proto.TypePostAnnouncement, queued.MessageData)
	require.NoError(t, err)
	assert.Equal(t, proto.DeterministicNonce(identifier), queued.Nonce)
}

func TestProcessEnvelopeReplayRejected(t *testing.T) {
	f := newFixture(t, Config{})
	raw := f.envelope(t, proto.TypePostAnnouncement, samplePost())

	_, fp1, err := f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.NoError(t, err)

	_, fp2, err := f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.ErrorIs(t, err, ErrDuplicateEnvelope)
	assert.Equal(t, fp1, fp2, "fingerprint is deterministic")
	assert.Len(t, f.cond.Events(), 1, "replay must not reach Conductor")
	assert.Len(t, f.repo.FederatedPosts(), 1)
}

func TestProcessEnvelopeUnknownSenderHasNoSideEffects(t *testing.T) {
	f := newFixture(t, Config{FederationTargets: []FederationTarget{{InstanceID: "stage-b", URL: "u"}}})
	raw := f.envelope(t, proto.TypePostAnnouncement, samplePost())
	f.trust.Remove(senderInstance)

	_, _, err := f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.ErrorIs(t, err, trust.ErrUnknownInstance)
	assert.Empty(t, f.cond.Events())
	assert.Empty(t, f.repo.FederatedPosts())
	assert.Equal(t, 0, f.repo.OutboundCount())

	// Nothing was committed to the replay cache: re-adding trust lets the
	// same bytes through.
	pub := f.key.Public().(ed25519.PublicKey)
	require.NoError(t, f.trust.Add(senderInstance, pub))
	_, _, err = f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	assert.NoError(t, err)
}

func TestProcessEnvelopeBadSignatureRejected(t *testing.T) {
	f := newFixture(t, Config{})
	data, err := proto.Marshal(samplePost())
	require.NoError(t, err)
	env := proto.FederationEnvelope{
		SenderInstance: senderInstance,
		Nonce:          1,
		MessageType:    proto.TypePostAnnouncement,
		MessageData:    data,
		Signature:      make([]byte, ed25519.SignatureSize),
	}
	raw, err := env.Encode()
	require.NoError(t, err)

	_, _, err = f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.ErrorIs(t, err, security.ErrSignatureInvalid)
	assert.Empty(t, f.cond.Events())
}

func TestProcessEnvelopeMalformedBytes(t *testing.T) {
	f := newFixture(t, Config{QuarantineInvalid: true})
	_, _, err := f.svc.ProcessEnvelope(context.Background(), []byte("not json"), "", senderInstance)
	require.ErrorIs(t, err, ErrInvalidEnvelope)
	assert.Equal(t, 1, f.repo.QuarantineCount())
}

func TestProcessEnvelopeUnknownTypeFailsEpochDerivation(t *testing.T) {
	f := newFixture(t, Config{})
	data, err := proto.Marshal(samplePost())
	require.NoError(t, err)
	env := proto.FederationEnvelope{
		SenderInstance: senderInstance,
		Nonce:          1,
		MessageType:    "Telemetry",
		MessageData:    data,
		Signature:      security.Sign(data, f.key),
	}
	raw, err := env.Encode()
	require.NoError(t, err)

	_, _, err = f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.ErrorIs(t, err, ErrInvalidEnvelope)
	assert.Empty(t, f.cond.Events(), "no epoch means no submission, never wall clock")
}

func TestProcessEnvelopeIdempotencyKeyCollision(t *testing.T) {
	f := newFixture(t, Config{})

	raw1 := f.envelope(t, proto.TypePostAnnouncement, samplePost())
	_, _, err := f.svc.ProcessEnvelope(context.Background(), raw1, "key-1", senderInstance)
	require.NoError(t, err)

	other := samplePost()
	other.OrderIndex = 8
	raw2 := f.envelope(t, proto.TypePostAnnouncement, other)
	_, _, err = f.svc.ProcessEnvelope(context.Background(), raw2, "key-1", senderInstance)
	require.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	assert.Len(t, f.cond.Events(), 1)
}

func TestDispatchFeatureFlagSkipsButKeepsReceipt(t *testing.T) {
	f := newFixture(t, Config{
		EnabledTypes: map[string]bool{proto.TypeUserRegistration: true},
	})
	raw := f.envelope(t, proto.TypePostAnnouncement, samplePost())

	receipt, _, err := f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.EventHash)
	assert.Empty(t, f.repo.FederatedPosts(), "disabled type must not persist")
	assert.Len(t, f.cond.Events(), 1, "Conductor submission still happens")
}

func TestDispatchInstanceJoinAddsTrust(t *testing.T) {
	f := newFixture(t, Config{})
	newKey, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	raw := f.envelope(t, proto.TypeInstanceJoinRequest, proto.InstanceJoinRequest{
		InstanceID:     "stage-c",
		InstancePubkey: newKey,
		ContactInfo:    "admin@stage-c.example",
		DayNumber:      130,
	})
	_, _, err = f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.NoError(t, err)
	assert.True(t, f.trust.Contains("stage-c"))
}

func TestDispatchBlacklistAddRemovesTrust(t *testing.T) {
	f := newFixture(t, Config{})
	victim, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, f.trust.Add("stage-evil", victim))

	raw := f.envelope(t, proto.TypeBlacklistUpdate, proto.BlacklistUpdate{
		InstanceID: "stage-evil",
		Action:     "add",
		ReasonHash: []byte{0xff},
		UpdateDay:  131,
	})
	_, _, err = f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.NoError(t, err)
	assert.False(t, f.trust.Contains("stage-evil"))
}

func TestDispatchBlacklistRemoveIsIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	raw := f.envelope(t, proto.TypeBlacklistUpdate, proto.BlacklistUpdate{
		InstanceID: "stage-gone",
		Action:     "remove",
		UpdateDay:  131,
	})
	_, _, err := f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.NoError(t, err)
	assert.False(t, f.trust.Contains("stage-gone"), "remove action never re-adds trust")
}

func TestDispatchDayProofUpsertsWithSenderSource(t *testing.T) {
	f := newFixture(t, Config{})
	raw := f.envelope(t, proto.TypeDayProof, proto.DayProof{
		DayNumber:          140,
		CanonicalProofHash: []byte{0xaa},
		ValidatorQuorumSig: []byte{0xbb},
	})
	_, _, err := f.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.NoError(t, err)

	rec, err := f.repo.GetDayProof(context.Background(), 140)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, senderInstance, rec.Source)
	assert.Equal(t, "aa", rec.ProofHash)
	assert.True(t, rec.Canonical)
}

func TestGetDayProofRepositoryFirstThenConductor(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// Absent everywhere.
	rec, err := f.svc.GetDayProof(ctx, 200)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Conductor has it; fetch persists with source conductor.
	f.cond.PutDayProof(conductor.DayProof{DayNumber: 200, Proof: "pp", ProofHash: "hh", Canonical: true})
	rec, err = f.svc.GetDayProof(ctx, 200)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "conductor", rec.Source)

	stored, err := f.repo.GetDayProof(ctx, 200)
	require.NoError(t, err)
	require.NotNil(t, stored)

	// Repository copy now answers without Conductor.
	require.NoError(t, f.cond.Close())
	rec, err = f.svc.GetDayProof(ctx, 200)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestQueueActivityPubExport(t *testing.T) {
	f := newFixture(t, Config{
		ActivityPubTargets: []string{"https://relay-1.example/inbox", "https://relay-2.example/inbox"},
	})
	post := samplePost()
	postBytes, err := proto.Marshal(post)
	require.NoError(t, err)

	jobID, err := f.svc.QueueActivityPubExport(context.Background(), ExportRequest{
		ChorusPost: postBytes,
		BodyMD:     "hello fediverse",
		Signature:  security.Sign(postBytes, f.key),
	}, senderInstance)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	assert.Equal(t, 2, f.repo.ExportCount())
	job, ok := f.repo.ExportByID(1)
	require.True(t, ok)
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, "Note", job.APType)
	assert.NotEmpty(t, job.ObjectHash)
	assert.NotEmpty(t, job.RawPayload)

	events := f.cond.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeActivityPubExport, events[0].EventType)
	assert.Equal(t, post.CreationDay, events[0].Epoch)
}

func TestQueueActivityPubExportBadSignature(t *testing.T) {
	f := newFixture(t, Config{ActivityPubTargets: []string{"https://relay.example/inbox"}})
	postBytes, err := proto.Marshal(samplePost())
	require.NoError(t, err)

	_, err = f.svc.QueueActivityPubExport(context.Background(), ExportRequest{
		ChorusPost: postBytes,
		BodyMD:     "x",
		Signature:  make([]byte, ed25519.SignatureSize),
	}, senderInstance)
	require.ErrorIs(t, err, security.ErrSignatureInvalid)
	assert.Equal(t, 0, f.repo.ExportCount())
}

func TestRecordModerationEvent(t *testing.T) {
	f := newFixture(t, Config{})
	event := proto.ModerationEvent{
		TargetRef:   []byte{0x10},
		Action:      "remove_post",
		ReasonHash:  []byte{0x20},
		CreationDay: 150,
	}
	eventBytes, err := proto.Marshal(event)
	require.NoError(t, err)

	eventID, receipt, err := f.svc.RecordModerationEvent(context.Background(), ModerationRequest{
		ModerationEvent: eventBytes,
		Signature:       security.Sign(eventBytes, f.key),
	}, senderInstance)
	require.NoError(t, err)
	assert.NotEmpty(t, eventID)
	assert.Equal(t, int64(150), receipt.Epoch)

	records := f.repo.ModerationEvents()
	require.Len(t, records, 1)
	assert.Equal(t, eventID, records[0].EventID)
	assert.Equal(t, "remove_post", records[0].Action)
	assert.Equal(t, receipt.EventHash, records[0].EventHash)
}

func TestPeersSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	peers := f.svc.Peers()
	assert.Contains(t, peers, senderInstance)
}

func TestFanOutDeterministicAcrossBridges(t *testing.T) {
	cfg := Config{FederationTargets: []FederationTarget{{InstanceID: "stage-b", URL: "u"}}}
	f1 := newFixture(t, cfg)

	post := samplePost()
	raw := f1.envelope(t, proto.TypePostAnnouncement, post)
	_, _, err := f1.svc.ProcessEnvelope(context.Background(), raw, "", senderInstance)
	require.NoError(t, err)

	row, ok := f1.repo.OutboundByID(1)
	require.True(t, ok)
	env1, err := proto.DecodeEnvelope(row.RawEnvelope)
	require.NoError(t, err)

	// A second bridge seeing the same inner event derives the same nonce.
	identifier, err := proto.OutboundIdentifier(proto.TypePostAnnouncement, env1.MessageData)
	require.NoError(t, err)
	assert.Equal(t, proto.DeterministicNonce(identifier), env1.Nonce)
}

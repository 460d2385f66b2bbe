// Package bridge implements the federation core: the envelope intake
// pipeline, the message dispatch table, fan-out to peer Stages, and the
// ActivityPub export path.
package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"github.com/chorus-net/chorus-bridge/internal/activitypub"
	"github.com/chorus-net/chorus-bridge/internal/conductor"
	"github.com/chorus-net/chorus-bridge/internal/database"
	"github.com/chorus-net/chorus-bridge/internal/metrics"
	"github.com/chorus-net/chorus-bridge/internal/proto"
	"github.com/chorus-net/chorus-bridge/internal/security"
	"github.com/chorus-net/chorus-bridge/internal/trust"
)

// EventTypeActivityPubExport tags export submissions to Conductor.
const EventTypeActivityPubExport = "activitypub_export"

// FederationTarget is a peer Stage that receives fan-out envelopes.
type FederationTarget struct {
	InstanceID string
	URL        string
}

// Config tunes the bridge core.
type Config struct {
	InstanceID         string
	ReplayTTL          time.Duration // envelope fingerprint horizon, default 24h
	IdempotencyTTL     time.Duration // default 1h
	FederationTargets  []FederationTarget
	ActivityPubTargets []string

	// EnabledTypes feature-flags dispatch arms. Nil enables everything.
	EnabledTypes map[string]bool

	// QuarantineInvalid stores unparseable envelope bytes for inspection.
	QuarantineInvalid bool

	// TrustStorePath, when set, persists the trust store snapshot after a
	// join or blacklist dispatch mutates it.
	TrustStorePath string
}

// Service is the bridge core. It exclusively owns Repository, Conductor and
// TrustStore access for the inbound pipeline.
type Service struct {
	cfg        Config
	repo       database.Repository
	cond       conductor.Client
	trust      *trust.Store
	translator *activitypub.Translator
	metrics    *metrics.Metrics
	logger     *log.Logger
}

// New assembles the bridge core. metrics may be nil in tests.
func New(cfg Config, repo database.Repository, cond conductor.Client, trustStore *trust.Store, translator *activitypub.Translator, m *metrics.Metrics) *Service {
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 24 * time.Hour
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = time.Hour
	}
	return &Service{
		cfg:        cfg,
		repo:       repo,
		cond:       cond,
		trust:      trustStore,
		translator: translator,
		metrics:    m,
		logger:     log.New(log.Writer(), "[BRIDGE] ", log.LstdFlags),
	}
}

// ============================================================================
// ENVELOPE PIPELINE
// ============================================================================

// ProcessEnvelope runs the inbound pipeline: parse, trust lookup, signature
// verify, fingerprint dedup, idempotency, epoch derivation, Conductor
// submit, dispatch, fan-out. The fingerprint commits before the Conductor
// submit so a partial failure can never re-admit the same bytes; the replay
// cache TTL is the replay horizon.
func (s *Service) ProcessEnvelope(ctx context.Context, raw []byte, idempotencyKey, stageInstance string) (conductor.Receipt, string, error) {
	env, err := proto.DecodeEnvelope(raw)
	if err != nil {
		s.countFailure("invalid_envelope")
		if s.cfg.QuarantineInvalid {
			if qerr := s.repo.QuarantineEnvelope(ctx, raw, err.Error()); qerr != nil {
				s.logger.Printf("⚠️  quarantine write failed: %v", qerr)
			}
		}
		return conductor.Receipt{}, "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if s.metrics != nil {
		s.metrics.EventsReceived.WithLabelValues(env.MessageType).Inc()
	}

	key, err := s.trust.Get(env.SenderInstance)
	if err != nil {
		s.countFailure("unknown_instance")
		return conductor.Receipt{}, "", err
	}
	if err := security.VerifySignature(env.MessageData, env.Signature, key); err != nil {
		s.countFailure("signature_invalid")
		return conductor.Receipt{}, "", err
	}

	fingerprint := security.EnvelopeFingerprint(
		[]byte(env.SenderInstance), []byte(env.MessageType), env.MessageData)
	fresh, err := s.repo.RememberEnvelope(ctx, fingerprint, env.SenderInstance, env.MessageType, s.cfg.ReplayTTL)
	if err != nil {
		return conductor.Receipt{}, "", fmt.Errorf("envelope cache: %w", err)
	}
	if !fresh {
		s.countFailure("duplicate_envelope")
		return conductor.Receipt{}, fingerprint, fmt.Errorf("%w: %s", ErrDuplicateEnvelope, fingerprint)
	}

	if idempotencyKey != "" {
		fresh, err := s.repo.RememberIdempotencyKey(ctx, stageInstance, idempotencyKey, s.cfg.IdempotencyTTL)
		if err != nil {
			return conductor.Receipt{}, "", fmt.Errorf("idempotency cache: %w", err)
		}
		if !fresh {
			s.countFailure("duplicate_idempotency_key")
			return conductor.Receipt{}, fingerprint, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, idempotencyKey)
		}
	}

	epoch, err := proto.EpochOf(env.MessageType, env.MessageData)
	if err != nil {
		s.countFailure("invalid_envelope")
		return conductor.Receipt{}, "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	started := time.Now()
	receipt, err := s.cond.SubmitEvent(ctx, conductor.Event{
		EventType: env.MessageType,
		Epoch:     epoch,
		Payload:   env.MessageData,
		Metadata: map[string]string{
			"sender_instance": env.SenderInstance,
			"message_type":    env.MessageType,
		},
	})
	s.observeConductor("submit_event", started, err)
	if err != nil {
		s.countFailure("backend_unavailable")
		return conductor.Receipt{}, "", err
	}

	if err := s.dispatch(ctx, env, epoch); err != nil {
		s.countFailure("dispatch")
		return conductor.Receipt{}, "", err
	}

	if err := s.fanOut(ctx, env); err != nil {
		s.countFailure("fan_out")
		return conductor.Receipt{}, "", err
	}

	if s.metrics != nil {
		s.metrics.EventsProcessed.WithLabelValues(env.MessageType).Inc()
	}
	return receipt, fingerprint, nil
}

// fanOut enqueues one outbound ledger row per configured target Stage,
// skipping the envelope's own sender. The queued envelope carries a
// deterministic nonce and an empty signature; the outbound worker re-signs
// with the bridge key at send time.
func (s *Service) fanOut(ctx context.Context, env *proto.FederationEnvelope) error {
	if len(s.cfg.FederationTargets) == 0 {
		return nil
	}
	identifier, err := proto.OutboundIdentifier(env.MessageType, env.MessageData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	outbound := proto.FederationEnvelope{
		SenderInstance: s.cfg.InstanceID,
		Nonce:          proto.DeterministicNonce(identifier),
		MessageType:    env.MessageType,
		MessageData:    env.MessageData,
		Signature:      nil,
	}
	rawOutbound, err := outbound.Encode()
	if err != nil {
		return fmt.Errorf("encode outbound envelope: %w", err)
	}
	for _, target := range s.cfg.FederationTargets {
		if target.InstanceID == env.SenderInstance {
			continue
		}
		if _, err := s.repo.EnqueueOutbound(ctx, database.OutboundMessage{
			TargetInstance: target.InstanceID,
			TargetURL:      target.URL,
			MessageType:    env.MessageType,
			RawEnvelope:    rawOutbound,
		}); err != nil {
			return fmt.Errorf("enqueue outbound for %s: %w", target.InstanceID, err)
		}
	}
	return nil
}

// ============================================================================
// DAY PROOFS
// ============================================================================

// GetDayProof serves a proof from the repository cache, falling back to
// Conductor and persisting the fetched proof with source "conductor".
// Returns (nil, nil) when neither side has it.
func (s *Service) GetDayProof(ctx context.Context, dayNumber int64) (*database.DayProofRecord, error) {
	rec, err := s.repo.GetDayProof(ctx, dayNumber)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if s.metrics != nil {
			s.metrics.DayProofCacheHits.Inc()
		}
		return rec, nil
	}

	started := time.Now()
	proof, err := s.cond.GetDayProof(ctx, dayNumber)
	s.observeConductor("get_day_proof", started, err)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, nil
	}
	rec = &database.DayProofRecord{
		DayNumber: proof.DayNumber,
		Proof:     proof.Proof,
		ProofHash: proof.ProofHash,
		Canonical: proof.Canonical,
		Source:    "conductor",
	}
	if err := s.repo.UpsertDayProof(ctx, *rec); err != nil {
		s.logger.Printf("⚠️  day proof cache write failed for day %d: %v", dayNumber, err)
	}
	return rec, nil
}

// ============================================================================
// ACTIVITYPUB EXPORT
// ============================================================================

// ExportRequest is a Stage's request to publish one of its posts to the
// fediverse. ChorusPost is the serialized PostAnnouncement; Signature is the
// Stage's Ed25519 signature over those bytes.
type ExportRequest struct {
	ChorusPost []byte
	BodyMD     string
	Signature  []byte
}

// QueueActivityPubExport verifies the request against the calling Stage's
// trust key, builds the Note, enqueues one export row per configured target
// and submits an export event to Conductor with epoch = creation day.
func (s *Service) QueueActivityPubExport(ctx context.Context, req ExportRequest, stageInstance string) (string, error) {
	key, err := s.trust.Get(stageInstance)
	if err != nil {
		return "", err
	}
	if err := security.VerifySignature(req.ChorusPost, req.Signature, key); err != nil {
		return "", err
	}

	var post proto.PostAnnouncement
	if err := proto.Unmarshal(req.ChorusPost, &post); err != nil {
		return "", fmt.Errorf("%w: bad PostAnnouncement: %v", ErrInvalidEnvelope, err)
	}
	if len(post.PostID) == 0 {
		return "", fmt.Errorf("%w: PostAnnouncement missing post_id", ErrInvalidEnvelope)
	}

	note, publishedTS := s.translator.BuildNote(post.PostID, post.AuthorPubkey, post.CreationDay, req.BodyMD)
	rawNote, err := note.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode note: %w", err)
	}
	objectHash := blake3.Sum256(rawNote)

	jobID := uuid.New().String()
	for _, target := range s.cfg.ActivityPubTargets {
		if _, err := s.repo.EnqueueExport(ctx, database.ExportJob{
			JobID:       jobID,
			TargetURL:   target,
			PostData:    req.ChorusPost,
			BodyMD:      req.BodyMD,
			APType:      "Note",
			PublishedTS: publishedTS,
			ObjectHash:  hex.EncodeToString(objectHash[:]),
			RawPayload:  rawNote,
		}); err != nil {
			return "", fmt.Errorf("enqueue export for %s: %w", target, err)
		}
	}

	started := time.Now()
	_, err = s.cond.SubmitEvent(ctx, conductor.Event{
		EventType: EventTypeActivityPubExport,
		Epoch:     post.CreationDay,
		Payload:   req.ChorusPost,
		Metadata: map[string]string{
			"sender_instance": stageInstance,
			"job_id":          jobID,
		},
	})
	s.observeConductor("submit_event", started, err)
	if err != nil {
		return "", err
	}

	s.logger.Printf("📤 Queued ActivityPub export %s (%d targets)", jobID, len(s.cfg.ActivityPubTargets))
	return jobID, nil
}

// ============================================================================
// MODERATION
// ============================================================================

// ModerationRequest carries a serialized ModerationEvent plus the Stage's
// signature over those bytes.
type ModerationRequest struct {
	ModerationEvent []byte
	Signature       []byte
}

// RecordModerationEvent verifies, submits to Conductor with epoch =
// creation day, and records the event locally for audit.
func (s *Service) RecordModerationEvent(ctx context.Context, req ModerationRequest, stageInstance string) (string, conductor.Receipt, error) {
	key, err := s.trust.Get(stageInstance)
	if err != nil {
		return "", conductor.Receipt{}, err
	}
	if err := security.VerifySignature(req.ModerationEvent, req.Signature, key); err != nil {
		return "", conductor.Receipt{}, err
	}

	var event proto.ModerationEvent
	if err := proto.Unmarshal(req.ModerationEvent, &event); err != nil {
		return "", conductor.Receipt{}, fmt.Errorf("%w: bad ModerationEvent: %v", ErrInvalidEnvelope, err)
	}

	started := time.Now()
	receipt, err := s.cond.SubmitEvent(ctx, conductor.Event{
		EventType: proto.TypeModerationEvent,
		Epoch:     event.CreationDay,
		Payload:   req.ModerationEvent,
		Metadata:  map[string]string{"sender_instance": stageInstance},
	})
	s.observeConductor("submit_event", started, err)
	if err != nil {
		return "", conductor.Receipt{}, err
	}

	eventID := uuid.New().String()
	if err := s.repo.RecordModerationEvent(ctx, database.ModerationRecord{
		EventID:        eventID,
		TargetRef:      hex.EncodeToString(event.TargetRef),
		Action:         event.Action,
		ReasonHash:     hex.EncodeToString(event.ReasonHash),
		SourceInstance: stageInstance,
		Epoch:          event.CreationDay,
		EventHash:      receipt.EventHash,
	}); err != nil {
		return "", conductor.Receipt{}, err
	}
	return eventID, receipt, nil
}

// ============================================================================
// PEERS
// ============================================================================

// Peers returns the current trust store snapshot: instance id to hex key.
func (s *Service) Peers() map[string]string {
	return s.trust.Snapshot()
}

func (s *Service) countFailure(reason string) {
	if s.metrics != nil {
		s.metrics.EventsFailed.WithLabelValues(reason).Inc()
	}
}

func (s *Service) observeConductor(op string, started time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ConductorRequests.WithLabelValues(op, outcome).Inc()
	s.metrics.ConductorLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

package database

import (
	"context"
	"time"
)

// Repository is the persistence surface the bridge core and workers depend
// on. Postgres backs production; an in-memory implementation backs tests
// and the standalone development mode.
type Repository interface {
	// Dedup caches. Each Remember* is an atomic insert-or-reject: true means
	// the value was new and is now recorded, false means it was already
	// present (a replay).
	RememberEnvelope(ctx context.Context, fingerprint, sender, messageType string, ttl time.Duration) (bool, error)
	RememberIdempotencyKey(ctx context.Context, instance, key string, ttl time.Duration) (bool, error)
	RememberJTI(ctx context.Context, jti, instance string, expiresAt time.Time) (bool, error)

	// Day proof cache. Upsert is last-writer-wins.
	UpsertDayProof(ctx context.Context, rec DayProofRecord) error
	GetDayProof(ctx context.Context, dayNumber int64) (*DayProofRecord, error)

	RecordModerationEvent(ctx context.Context, rec ModerationRecord) error

	// Federated-entity saves, append-only.
	SaveFederatedPost(ctx context.Context, rec FederatedPost) error
	SaveRegisteredUser(ctx context.Context, rec RegisteredUser) error
	SaveFederatedCommunity(ctx context.Context, rec FederatedCommunity) error
	SaveFederatedUserUpdate(ctx context.Context, rec FederatedUserUpdate) error
	SaveFederatedCommunityUpdate(ctx context.Context, rec FederatedCommunityUpdate) error
	SaveFederatedCommunityMembership(ctx context.Context, rec FederatedCommunityMembership) error

	// Outbound federation ledger.
	EnqueueOutbound(ctx context.Context, msg OutboundMessage) (int64, error)
	DueOutbound(ctx context.Context, now time.Time, limit int) ([]OutboundMessage, error)
	// CheckoutOutbound CAS-transitions queued|retrying -> sending. False
	// means another worker already holds the row.
	CheckoutOutbound(ctx context.Context, id int64) (bool, error)
	MarkOutboundDelivered(ctx context.Context, id int64, at time.Time) error
	MarkOutboundRetry(ctx context.Context, id int64, attempts int, retryAt time.Time, lastError string) error
	MarkOutboundFailed(ctx context.Context, id int64, attempts int, lastError string) error
	// RequeueStaleOutbound puts sending rows checked out before olderThan
	// back to retrying, recovering rows stranded by a crash mid-attempt.
	RequeueStaleOutbound(ctx context.Context, olderThan time.Time) (int64, error)

	// ActivityPub export ledger, same checkout discipline.
	EnqueueExport(ctx context.Context, job ExportJob) (int64, error)
	DueExports(ctx context.Context, now time.Time, limit int) ([]ExportJob, error)
	CheckoutExport(ctx context.Context, id int64) (bool, error)
	MarkExportDelivered(ctx context.Context, id int64, at time.Time) error
	MarkExportRetry(ctx context.Context, id int64, attempts int, retryAt time.Time, lastError string) error
	MarkExportFailed(ctx context.Context, id int64, attempts int, lastError string) error
	RequeueStaleExports(ctx context.Context, olderThan time.Time) (int64, error)

	// QuarantineEnvelope stores raw bytes that failed parsing, when the
	// quarantine flag is on.
	QuarantineEnvelope(ctx context.Context, raw []byte, reason string) error

	Ping(ctx context.Context) error
	Close() error
}

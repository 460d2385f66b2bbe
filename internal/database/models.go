// Package database is the bridge's durable store: dedup caches, day proofs,
// moderation and federated-entity records, and the outbound/export delivery
// ledgers the workers drain.
package database

import "time"

// Ledger row states. Transitions are monotonic: queued -> sending ->
// delivered | retrying -> ... -> failed. Terminal rows are never revived.
// A sending row whose checkout has outlived the stale window is put back to
// retrying, so a crash mid-attempt cannot strand it.
const (
	StatusQueued    = "queued"
	StatusSending   = "sending"
	StatusRetrying  = "retrying"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// OutboundMessage is one row of the outbound federation ledger: an envelope
// queued for delivery to a peer Stage. Signature inside RawEnvelope is empty
// at enqueue time; the worker re-signs with the bridge key before sending.
type OutboundMessage struct {
	ID             int64
	TargetInstance string
	TargetURL      string
	MessageType    string
	RawEnvelope    []byte
	Status         string
	Attempts       int
	RetryAt        time.Time
	LastAttemptAt  *time.Time
	CheckedOutAt   *time.Time
	LastError      string
	CreatedAt      time.Time
}

// ExportJob is one row of the ActivityPub export ledger. RawPayload is the
// fully built Note JSON; PostData and BodyMD keep the source material so the
// object can be rebuilt or audited.
type ExportJob struct {
	ID          int64
	JobID       string
	TargetURL   string
	PostData    []byte
	BodyMD      string
	APType      string
	PublishedTS int64
	ObjectHash  string
	RawPayload   []byte
	Status       string
	Attempts     int
	RetryAt      time.Time
	CheckedOutAt *time.Time
	LastError    string
	CreatedAt    time.Time
}

// DayProofRecord is a cached day proof. Source records where it came from:
// "conductor" for fetch-through, otherwise the announcing instance id.
type DayProofRecord struct {
	DayNumber int64
	Proof     string
	ProofHash string
	Canonical bool
	Source    string
	UpdatedAt time.Time
}

// ModerationRecord is a locally recorded moderation event, kept alongside
// the Conductor submission for audit.
type ModerationRecord struct {
	EventID        string
	TargetRef      string
	Action         string
	ReasonHash     string
	SourceInstance string
	Epoch          int64
	EventHash      string
	CreatedAt      time.Time
}

// Federated-entity records dispatched off inbound envelopes. All hex-encoded
// byte fields, append-only.

type FederatedPost struct {
	PostID         string
	AuthorPubkey   string
	ContentHash    string
	OrderIndex     int64
	CreationDay    int64
	SourceInstance string
}

type RegisteredUser struct {
	UserPubkey      string
	RegistrationDay int64
	DayProofHash    string
	SourceInstance  string
}

type FederatedCommunity struct {
	CommunityID    string
	CreatorPubkey  string
	NameHash       string
	CreationDay    int64
	SourceInstance string
}

type FederatedUserUpdate struct {
	UserPubkey     string
	ProfileHash    string
	UpdateDay      int64
	SourceInstance string
}

type FederatedCommunityUpdate struct {
	CommunityID    string
	SettingsHash   string
	UpdateDay      int64
	SourceInstance string
}

type FederatedCommunityMembership struct {
	CommunityID    string
	UserPubkey     string
	Action         string
	UpdateDay      int64
	SourceInstance string
}

package database

import (
	"context"
	"sync"
	"time"
)

// Memory implements Repository with maps. It mirrors the Postgres semantics
// exactly, including checkout CAS and dedup TTLs, so the bridge core and
// workers can be tested without a database.
type Memory struct {
	mu sync.Mutex

	envelopes   map[string]time.Time            // fingerprint -> expires
	idempotency map[string]time.Time            // instance\x00key -> expires
	jtis        map[string]time.Time            // jti -> expires
	dayProofs   map[int64]DayProofRecord
	moderation  []ModerationRecord
	posts       []FederatedPost
	users       []RegisteredUser
	communities []FederatedCommunity
	userUpdates []FederatedUserUpdate
	commUpdates []FederatedCommunityUpdate
	memberships []FederatedCommunityMembership
	quarantine  []quarantinedEnvelope

	outbound  map[int64]*OutboundMessage
	exports   map[int64]*ExportJob
	nextOutID int64
	nextExpID int64
}

type quarantinedEnvelope struct {
	Raw    []byte
	Reason string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		envelopes:   make(map[string]time.Time),
		idempotency: make(map[string]time.Time),
		jtis:        make(map[string]time.Time),
		dayProofs:   make(map[int64]DayProofRecord),
		outbound:    make(map[int64]*OutboundMessage),
		exports:     make(map[int64]*ExportJob),
	}
}

func (m *Memory) RememberEnvelope(ctx context.Context, fingerprint, sender, messageType string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if exp, ok := m.envelopes[fingerprint]; ok && now.Before(exp) {
		return false, nil
	}
	m.envelopes[fingerprint] = now.Add(ttl)
	return true, nil
}

func (m *Memory) RememberIdempotencyKey(ctx context.Context, instance, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	composite := instance + "\x00" + key
	if exp, ok := m.idempotency[composite]; ok && now.Before(exp) {
		return false, nil
	}
	m.idempotency[composite] = now.Add(ttl)
	return true, nil
}

func (m *Memory) RememberJTI(ctx context.Context, jti, instance string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.jtis[jti]; ok && time.Now().Before(exp) {
		return false, nil
	}
	m.jtis[jti] = expiresAt
	return true, nil
}

func (m *Memory) UpsertDayProof(ctx context.Context, rec DayProofRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = time.Now()
	m.dayProofs[rec.DayNumber] = rec
	return nil
}

func (m *Memory) GetDayProof(ctx context.Context, dayNumber int64) (*DayProofRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.dayProofs[dayNumber]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) RecordModerationEvent(ctx context.Context, rec ModerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.CreatedAt = time.Now()
	m.moderation = append(m.moderation, rec)
	return nil
}

func (m *Memory) SaveFederatedPost(ctx context.Context, rec FederatedPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, rec)
	return nil
}

func (m *Memory) SaveRegisteredUser(ctx context.Context, rec RegisteredUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, rec)
	return nil
}

func (m *Memory) SaveFederatedCommunity(ctx context.Context, rec FederatedCommunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.communities = append(m.communities, rec)
	return nil
}

func (m *Memory) SaveFederatedUserUpdate(ctx context.Context, rec FederatedUserUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userUpdates = append(m.userUpdates, rec)
	return nil
}

func (m *Memory) SaveFederatedCommunityUpdate(ctx context.Context, rec FederatedCommunityUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commUpdates = append(m.commUpdates, rec)
	return nil
}

func (m *Memory) SaveFederatedCommunityMembership(ctx context.Context, rec FederatedCommunityMembership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships = append(m.memberships, rec)
	return nil
}

func (m *Memory) EnqueueOutbound(ctx context.Context, msg OutboundMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOutID++
	msg.ID = m.nextOutID
	msg.Status = StatusQueued
	msg.RetryAt = time.Now()
	msg.CreatedAt = time.Now()
	m.outbound[msg.ID] = &msg
	return msg.ID, nil
}

func (m *Memory) DueOutbound(ctx context.Context, now time.Time, limit int) ([]OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboundMessage
	for _, msg := range m.outbound {
		if len(out) >= limit {
			break
		}
		if (msg.Status == StatusQueued || msg.Status == StatusRetrying) && !msg.RetryAt.After(now) {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *Memory) CheckoutOutbound(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.outbound[id]
	if !ok || (msg.Status != StatusQueued && msg.Status != StatusRetrying) {
		return false, nil
	}
	now := time.Now()
	msg.Status = StatusSending
	msg.CheckedOutAt = &now
	return true, nil
}

// Ledger writes honour ctx cancellation, matching what ExecContext does on
// the Postgres side.

func (m *Memory) MarkOutboundDelivered(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.outbound[id]; ok && msg.Status == StatusSending {
		msg.Status = StatusDelivered
		msg.LastAttemptAt = &at
		msg.LastError = ""
	}
	return nil
}

func (m *Memory) MarkOutboundRetry(ctx context.Context, id int64, attempts int, retryAt time.Time, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.outbound[id]; ok && msg.Status == StatusSending {
		now := time.Now()
		msg.Status = StatusRetrying
		msg.Attempts = attempts
		msg.RetryAt = retryAt
		msg.LastAttemptAt = &now
		msg.LastError = lastError
	}
	return nil
}

func (m *Memory) MarkOutboundFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.outbound[id]; ok && msg.Status == StatusSending {
		now := time.Now()
		msg.Status = StatusFailed
		msg.Attempts = attempts
		msg.LastAttemptAt = &now
		msg.LastError = lastError
	}
	return nil
}

func (m *Memory) RequeueStaleOutbound(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.outbound {
		if msg.Status == StatusSending && msg.CheckedOutAt != nil && msg.CheckedOutAt.Before(olderThan) {
			msg.Status = StatusRetrying
			msg.RetryAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *Memory) EnqueueExport(ctx context.Context, job ExportJob) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextExpID++
	job.ID = m.nextExpID
	job.Status = StatusQueued
	job.RetryAt = time.Now()
	job.CreatedAt = time.Now()
	m.exports[job.ID] = &job
	return job.ID, nil
}

func (m *Memory) DueExports(ctx context.Context, now time.Time, limit int) ([]ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExportJob
	for _, job := range m.exports {
		if len(out) >= limit {
			break
		}
		if (job.Status == StatusQueued || job.Status == StatusRetrying) && !job.RetryAt.After(now) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *Memory) CheckoutExport(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.exports[id]
	if !ok || (job.Status != StatusQueued && job.Status != StatusRetrying) {
		return false, nil
	}
	now := time.Now()
	job.Status = StatusSending
	job.CheckedOutAt = &now
	return true, nil
}

func (m *Memory) MarkExportDelivered(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.exports[id]; ok && job.Status == StatusSending {
		job.Status = StatusDelivered
		job.LastError = ""
	}
	return nil
}

func (m *Memory) MarkExportRetry(ctx context.Context, id int64, attempts int, retryAt time.Time, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.exports[id]; ok && job.Status == StatusSending {
		job.Status = StatusRetrying
		job.Attempts = attempts
		job.RetryAt = retryAt
		job.LastError = lastError
	}
	return nil
}

func (m *Memory) MarkExportFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.exports[id]; ok && job.Status == StatusSending {
		job.Status = StatusFailed
		job.Attempts = attempts
		job.LastError = lastError
	}
	return nil
}

func (m *Memory) RequeueStaleExports(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, job := range m.exports {
		if job.Status == StatusSending && job.CheckedOutAt != nil && job.CheckedOutAt.Before(olderThan) {
			job.Status = StatusRetrying
			job.RetryAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *Memory) QuarantineEnvelope(ctx context.Context, raw []byte, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantine = append(m.quarantine, quarantinedEnvelope{Raw: append([]byte(nil), raw...), Reason: reason})
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

// Inspection helpers for tests.

func (m *Memory) ModerationEvents() []ModerationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModerationRecord(nil), m.moderation...)
}

func (m *Memory) FederatedPosts() []FederatedPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FederatedPost(nil), m.posts...)
}

func (m *Memory) RegisteredUsers() []RegisteredUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RegisteredUser(nil), m.users...)
}

func (m *Memory) FederatedCommunities() []FederatedCommunity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FederatedCommunity(nil), m.communities...)
}

func (m *Memory) CommunityMemberships() []FederatedCommunityMembership {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FederatedCommunityMembership(nil), m.memberships...)
}

func (m *Memory) QuarantineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.quarantine)
}

// OutboundByID returns a snapshot of a ledger row.
func (m *Memory) OutboundByID(id int64) (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.outbound[id]
	if !ok {
		return OutboundMessage{}, false
	}
	return *msg, true
}

// OutboundCount returns the number of ledger rows.
func (m *Memory) OutboundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbound)
}

// ExportByID returns a snapshot of an export row.
func (m *Memory) ExportByID(id int64) (ExportJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.exports[id]
	if !ok {
		return ExportJob{}, false
	}
	return *job, true
}

// ExportCount returns the number of export rows.
func (m *Memory) ExportCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exports)
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Postgres implements Repository on database/sql with the pq driver.
type Postgres struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgres connects, pings and bootstraps the schema.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{
		db:     db,
		logger: log.New(log.Writer(), "[DB] ", log.LstdFlags),
	}
	if err := p.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	p.logger.Printf("✅ Connected and schema ready")
	return p, nil
}

func (p *Postgres) bootstrap() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS envelope_cache (
			fingerprint TEXT PRIMARY KEY,
			sender_instance TEXT NOT NULL,
			message_type TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			instance_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (instance_id, idempotency_key)
		)`,
		`CREATE TABLE IF NOT EXISTS jti_cache (
			jti TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS day_proofs (
			day_number BIGINT PRIMARY KEY,
			proof TEXT NOT NULL,
			proof_hash TEXT NOT NULL,
			canonical BOOLEAN NOT NULL,
			source TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS moderation_events (
			event_id TEXT PRIMARY KEY,
			target_ref TEXT NOT NULL,
			action TEXT NOT NULL,
			reason_hash TEXT NOT NULL,
			source_instance TEXT NOT NULL,
			epoch BIGINT NOT NULL,
			event_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS federated_posts (
			post_id TEXT NOT NULL,
			author_pubkey TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			order_index BIGINT NOT NULL,
			creation_day BIGINT NOT NULL,
			source_instance TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS registered_users (
			user_pubkey TEXT NOT NULL,
			registration_day BIGINT NOT NULL,
			day_proof_hash TEXT NOT NULL,
			source_instance TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS federated_communities (
			community_id TEXT NOT NULL,
			creator_pubkey TEXT NOT NULL,
			name_hash TEXT NOT NULL,
			creation_day BIGINT NOT NULL,
			source_instance TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS federated_user_updates (
			user_pubkey TEXT NOT NULL,
			profile_hash TEXT NOT NULL,
			update_day BIGINT NOT NULL,
			source_instance TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS federated_community_updates (
			community_id TEXT NOT NULL,
			settings_hash TEXT NOT NULL,
			update_day BIGINT NOT NULL,
			source_instance TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS federated_community_memberships (
			community_id TEXT NOT NULL,
			user_pubkey TEXT NOT NULL,
			action TEXT NOT NULL,
			update_day BIGINT NOT NULL,
			source_instance TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS outbound_federation_ledger (
			id BIGSERIAL PRIMARY KEY,
			target_instance TEXT NOT NULL,
			target_url TEXT NOT NULL,
			message_type TEXT NOT NULL,
			raw_envelope BYTEA NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			attempts INT NOT NULL DEFAULT 0,
			retry_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_attempt_at TIMESTAMPTZ,
			checked_out_at TIMESTAMPTZ,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS outbound_due_idx
			ON outbound_federation_ledger (status, retry_at)`,
		`CREATE TABLE IF NOT EXISTS export_ledger (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			target_url TEXT NOT NULL,
			post_data BYTEA NOT NULL,
			body_md TEXT NOT NULL,
			ap_type TEXT NOT NULL,
			published_ts BIGINT NOT NULL,
			object_hash TEXT NOT NULL,
			raw_payload BYTEA NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			attempts INT NOT NULL DEFAULT 0,
			retry_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checked_out_at TIMESTAMPTZ,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS export_due_idx
			ON export_ledger (status, retry_at)`,
		`CREATE TABLE IF NOT EXISTS quarantined_envelopes (
			id BIGSERIAL PRIMARY KEY,
			raw_bytes BYTEA NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}

// ============================================================================
// DEDUP CACHES
// ============================================================================

func (p *Postgres) RememberEnvelope(ctx context.Context, fingerprint, sender, messageType string, ttl time.Duration) (bool, error) {
	// Purge before insert so an expired fingerprint can be seen again.
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM envelope_cache WHERE expires_at <= now()`); err != nil {
		return false, fmt.Errorf("purge envelope cache: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO envelope_cache (fingerprint, sender_instance, message_type, expires_at)
		 VALUES ($1, $2, $3, now() + $4 * interval '1 second')
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, sender, messageType, int64(ttl.Seconds()))
	if err != nil {
		return false, fmt.Errorf("remember envelope: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) RememberIdempotencyKey(ctx context.Context, instance, key string, ttl time.Duration) (bool, error) {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at <= now()`); err != nil {
		return false, fmt.Errorf("purge idempotency keys: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (instance_id, idempotency_key, expires_at)
		 VALUES ($1, $2, now() + $3 * interval '1 second')
		 ON CONFLICT (instance_id, idempotency_key) DO NOTHING`,
		instance, key, int64(ttl.Seconds()))
	if err != nil {
		return false, fmt.Errorf("remember idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) RememberJTI(ctx context.Context, jti, instance string, expiresAt time.Time) (bool, error) {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM jti_cache WHERE expires_at <= now()`); err != nil {
		return false, fmt.Errorf("purge jti cache: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO jti_cache (jti, instance_id, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, instance, expiresAt)
	if err != nil {
		return false, fmt.Errorf("remember jti: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ============================================================================
// DAY PROOFS
// ============================================================================

func (p *Postgres) UpsertDayProof(ctx context.Context, rec DayProofRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO day_proofs (day_number, proof, proof_hash, canonical, source, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (day_number) DO UPDATE SET
			proof = EXCLUDED.proof,
			proof_hash = EXCLUDED.proof_hash,
			canonical = EXCLUDED.canonical,
			source = EXCLUDED.source,
			updated_at = now()`,
		rec.DayNumber, rec.Proof, rec.ProofHash, rec.Canonical, rec.Source)
	if err != nil {
		return fmt.Errorf("upsert day proof %d: %w", rec.DayNumber, err)
	}
	return nil
}

func (p *Postgres) GetDayProof(ctx context.Context, dayNumber int64) (*DayProofRecord, error) {
	var rec DayProofRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT day_number, proof, proof_hash, canonical, source, updated_at
		 FROM day_proofs WHERE day_number = $1`, dayNumber).
		Scan(&rec.DayNumber, &rec.Proof, &rec.ProofHash, &rec.Canonical, &rec.Source, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get day proof %d: %w", dayNumber, err)
	}
	return &rec, nil
}

// ============================================================================
// MODERATION + FEDERATED ENTITIES
// ============================================================================

func (p *Postgres) RecordModerationEvent(ctx context.Context, rec ModerationRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO moderation_events (event_id, target_ref, action, reason_hash, source_instance, epoch, event_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.EventID, rec.TargetRef, rec.Action, rec.ReasonHash, rec.SourceInstance, rec.Epoch, rec.EventHash)
	if err != nil {
		return fmt.Errorf("record moderation event: %w", err)
	}
	return nil
}

func (p *Postgres) SaveFederatedPost(ctx context.Context, rec FederatedPost) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO federated_posts (post_id, author_pubkey, content_hash, order_index, creation_day, source_instance)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.PostID, rec.AuthorPubkey, rec.ContentHash, rec.OrderIndex, rec.CreationDay, rec.SourceInstance)
	if err != nil {
		return fmt.Errorf("save federated post: %w", err)
	}
	return nil
}

func (p *Postgres) SaveRegisteredUser(ctx context.Context, rec RegisteredUser) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO registered_users (user_pubkey, registration_day, day_proof_hash, source_instance)
		 VALUES ($1, $2, $3, $4)`,
		rec.UserPubkey, rec.RegistrationDay, rec.DayProofHash, rec.SourceInstance)
	if err != nil {
		return fmt.Errorf("save registered user: %w", err)
	}
	return nil
}

func (p *Postgres) SaveFederatedCommunity(ctx context.Context, rec FederatedCommunity) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO federated_communities (community_id, creator_pubkey, name_hash, creation_day, source_instance)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.CommunityID, rec.CreatorPubkey, rec.NameHash, rec.CreationDay, rec.SourceInstance)
	if err != nil {
		return fmt.Errorf("save federated community: %w", err)
	}
	return nil
}

func (p *Postgres) SaveFederatedUserUpdate(ctx context.Context, rec FederatedUserUpdate) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO federated_user_updates (user_pubkey, profile_hash, update_day, source_instance)
		 VALUES ($1, $2, $3, $4)`,
		rec.UserPubkey, rec.ProfileHash, rec.UpdateDay, rec.SourceInstance)
	if err != nil {
		return fmt.Errorf("save user update: %w", err)
	}
	return nil
}

func (p *Postgres) SaveFederatedCommunityUpdate(ctx context.Context, rec FederatedCommunityUpdate) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO federated_community_updates (community_id, settings_hash, update_day, source_instance)
		 VALUES ($1, $2, $3, $4)`,
		rec.CommunityID, rec.SettingsHash, rec.UpdateDay, rec.SourceInstance)
	if err != nil {
		return fmt.Errorf("save community update: %w", err)
	}
	return nil
}

func (p *Postgres) SaveFederatedCommunityMembership(ctx context.Context, rec FederatedCommunityMembership) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO federated_community_memberships (community_id, user_pubkey, action, update_day, source_instance)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.CommunityID, rec.UserPubkey, rec.Action, rec.UpdateDay, rec.SourceInstance)
	if err != nil {
		return fmt.Errorf("save community membership: %w", err)
	}
	return nil
}

// ============================================================================
// OUTBOUND FEDERATION LEDGER
// ============================================================================

func (p *Postgres) EnqueueOutbound(ctx context.Context, msg OutboundMessage) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO outbound_federation_ledger (target_instance, target_url, message_type, raw_envelope, status, retry_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING id`,
		msg.TargetInstance, msg.TargetURL, msg.MessageType, msg.RawEnvelope, StatusQueued).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue outbound: %w", err)
	}
	return id, nil
}

func (p *Postgres) DueOutbound(ctx context.Context, now time.Time, limit int) ([]OutboundMessage, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, target_instance, target_url, message_type, raw_envelope,
		        status, attempts, retry_at, last_attempt_at, checked_out_at, last_error, created_at
		 FROM outbound_federation_ledger
		 WHERE status IN ($1, $2) AND retry_at <= $3
		 ORDER BY retry_at ASC
		 LIMIT $4`,
		StatusQueued, StatusRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due outbound: %w", err)
	}
	defer rows.Close()

	var out []OutboundMessage
	for rows.Next() {
		var msg OutboundMessage
		var lastAttempt, checkedOut sql.NullTime
		if err := rows.Scan(&msg.ID, &msg.TargetInstance, &msg.TargetURL, &msg.MessageType,
			&msg.RawEnvelope, &msg.Status, &msg.Attempts, &msg.RetryAt,
			&lastAttempt, &checkedOut, &msg.LastError, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbound row: %w", err)
		}
		if lastAttempt.Valid {
			msg.LastAttemptAt = &lastAttempt.Time
		}
		if checkedOut.Valid {
			msg.CheckedOutAt = &checkedOut.Time
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (p *Postgres) CheckoutOutbound(ctx context.Context, id int64) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE outbound_federation_ledger SET status = $1, checked_out_at = now()
		 WHERE id = $2 AND status IN ($3, $4)`,
		StatusSending, id, StatusQueued, StatusRetrying)
	if err != nil {
		return false, fmt.Errorf("checkout outbound %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) MarkOutboundDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE outbound_federation_ledger
		 SET status = $1, last_attempt_at = $2, last_error = ''
		 WHERE id = $3 AND status = $4`,
		StatusDelivered, at, id, StatusSending)
	if err != nil {
		return fmt.Errorf("mark outbound delivered %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) MarkOutboundRetry(ctx context.Context, id int64, attempts int, retryAt time.Time, lastError string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE outbound_federation_ledger
		 SET status = $1, attempts = $2, retry_at = $3, last_attempt_at = now(), last_error = $4
		 WHERE id = $5 AND status = $6`,
		StatusRetrying, attempts, retryAt, lastError, id, StatusSending)
	if err != nil {
		return fmt.Errorf("mark outbound retry %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) MarkOutboundFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE outbound_federation_ledger
		 SET status = $1, attempts = $2, last_attempt_at = now(), last_error = $3
		 WHERE id = $4 AND status = $5`,
		StatusFailed, attempts, lastError, id, StatusSending)
	if err != nil {
		return fmt.Errorf("mark outbound failed %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) RequeueStaleOutbound(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE outbound_federation_ledger
		 SET status = $1, retry_at = now()
		 WHERE status = $2 AND checked_out_at IS NOT NULL AND checked_out_at < $3`,
		StatusRetrying, StatusSending, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbound: %w", err)
	}
	return res.RowsAffected()
}

// ============================================================================
// EXPORT LEDGER
// ============================================================================

func (p *Postgres) EnqueueExport(ctx context.Context, job ExportJob) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO export_ledger (job_id, target_url, post_data, body_md, ap_type, published_ts, object_hash, raw_payload, status, retry_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 RETURNING id`,
		job.JobID, job.TargetURL, job.PostData, job.BodyMD, job.APType,
		job.PublishedTS, job.ObjectHash, job.RawPayload, StatusQueued).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue export: %w", err)
	}
	return id, nil
}

func (p *Postgres) DueExports(ctx context.Context, now time.Time, limit int) ([]ExportJob, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, job_id, target_url, post_data, body_md, ap_type, published_ts,
		        object_hash, raw_payload, status, attempts, retry_at, checked_out_at, last_error, created_at
		 FROM export_ledger
		 WHERE status IN ($1, $2) AND retry_at <= $3
		 ORDER BY retry_at ASC
		 LIMIT $4`,
		StatusQueued, StatusRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due exports: %w", err)
	}
	defer rows.Close()

	var out []ExportJob
	for rows.Next() {
		var job ExportJob
		var checkedOut sql.NullTime
		if err := rows.Scan(&job.ID, &job.JobID, &job.TargetURL, &job.PostData, &job.BodyMD,
			&job.APType, &job.PublishedTS, &job.ObjectHash, &job.RawPayload,
			&job.Status, &job.Attempts, &job.RetryAt, &checkedOut, &job.LastError, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		if checkedOut.Valid {
			job.CheckedOutAt = &checkedOut.Time
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (p *Postgres) CheckoutExport(ctx context.Context, id int64) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE export_ledger SET status = $1, checked_out_at = now()
		 WHERE id = $2 AND status IN ($3, $4)`,
		StatusSending, id, StatusQueued, StatusRetrying)
	if err != nil {
		return false, fmt.Errorf("checkout export %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) MarkExportDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE export_ledger SET status = $1, last_error = '' WHERE id = $2 AND status = $3`,
		StatusDelivered, id, StatusSending)
	if err != nil {
		return fmt.Errorf("mark export delivered %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) MarkExportRetry(ctx context.Context, id int64, attempts int, retryAt time.Time, lastError string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE export_ledger
		 SET status = $1, attempts = $2, retry_at = $3, last_error = $4
		 WHERE id = $5 AND status = $6`,
		StatusRetrying, attempts, retryAt, lastError, id, StatusSending)
	if err != nil {
		return fmt.Errorf("mark export retry %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) MarkExportFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE export_ledger
		 SET status = $1, attempts = $2, last_error = $3
		 WHERE id = $4 AND status = $5`,
		StatusFailed, attempts, lastError, id, StatusSending)
	if err != nil {
		return fmt.Errorf("mark export failed %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) RequeueStaleExports(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE export_ledger
		 SET status = $1, retry_at = now()
		 WHERE status = $2 AND checked_out_at IS NOT NULL AND checked_out_at < $3`,
		StatusRetrying, StatusSending, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeue stale exports: %w", err)
	}
	return res.RowsAffected()
}

// ============================================================================
// QUARANTINE + HEALTH
// ============================================================================

func (p *Postgres) QuarantineEnvelope(ctx context.Context, raw []byte, reason string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO quarantined_envelopes (raw_bytes, reason) VALUES ($1, $2)`,
		raw, reason)
	if err != nil {
		return fmt.Errorf("quarantine envelope: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

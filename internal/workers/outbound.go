// Package workers contains the bridge's reliable delivery loops: Stage
// federation fan-out and ActivityPub export. Both drain their ledger with an
// exclusive row checkout and bounded exponential backoff.
package workers

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/chorus-net/chorus-bridge/internal/database"
	"github.com/chorus-net/chorus-bridge/internal/metrics"
	"github.com/chorus-net/chorus-bridge/internal/proto"
	"github.com/chorus-net/chorus-bridge/internal/security"
)

const (
	federationSendPath = "/api/bridge/federation/send"
	outboundJWTLife    = 5 * time.Minute
	batchSize          = 50

	// staleSendingAfter is how long a row may sit in sending before a tick
	// treats its checkout as abandoned and puts it back in rotation.
	staleSendingAfter = 5 * time.Minute
)

// OutboundConfig tunes the Stage federation worker.
type OutboundConfig struct {
	InstanceID     string
	Interval       time.Duration // default 1s
	RequestTimeout time.Duration // default 10s
	MaxRetries     int           // default 5
	BackoffBase    time.Duration // default 1s

	// SigningKey re-signs message_data at the attestation boundary: the
	// outbound envelope authenticates this bridge, not the original Stage.
	SigningKey ed25519.PrivateKey

	// JWTSigningKey, when set, attaches an EdDSA bearer token per request.
	JWTSigningKey ed25519.PrivateKey
}

// OutboundWorker drains the outbound federation ledger.
type OutboundWorker struct {
	cfg     OutboundConfig
	repo    database.Repository
	client  *http.Client
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewOutboundWorker builds the worker. metrics may be nil.
func NewOutboundWorker(cfg OutboundConfig, repo database.Repository, m *metrics.Metrics) *OutboundWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &OutboundWorker{
		cfg:     cfg,
		repo:    repo,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		metrics: m,
		logger:  log.New(log.Writer(), "[OUTBOUND] ", log.LstdFlags),
	}
}

// Run ticks until ctx is cancelled. An in-flight attempt always concludes
// and writes its row state before the loop exits.
func (w *OutboundWorker) Run(ctx context.Context) {
	w.logger.Printf("🚀 Outbound federation worker started (interval %s)", w.cfg.Interval)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("🛑 Outbound federation worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes one batch of due rows. Exported so tests can drive the
// worker without the ticker.
func (w *OutboundWorker) Tick(ctx context.Context) {
	if n, err := w.repo.RequeueStaleOutbound(ctx, time.Now().Add(-staleSendingAfter)); err != nil {
		w.logger.Printf("⚠️  stale requeue failed: %v", err)
	} else if n > 0 {
		w.logger.Printf("♻️  requeued %d stranded rows", n)
	}

	due, err := w.repo.DueOutbound(ctx, time.Now(), batchSize)
	if err != nil {
		w.logger.Printf("⚠️  due query failed: %v", err)
		return
	}
	for _, row := range due {
		ok, err := w.repo.CheckoutOutbound(ctx, row.ID)
		if err != nil {
			w.logger.Printf("⚠️  checkout %d failed: %v", row.ID, err)
			continue
		}
		if !ok {
			continue // another worker holds the row
		}
		w.attempt(ctx, row)
	}
}

func (w *OutboundWorker) attempt(ctx context.Context, row database.OutboundMessage) {
	err := w.deliver(ctx, row)

	// Row-state writes run on a detached context: a checked-out row must
	// leave sending even when the delivery was cut short by shutdown.
	markCtx := context.WithoutCancel(ctx)
	if err == nil {
		if markErr := w.repo.MarkOutboundDelivered(markCtx, row.ID, time.Now()); markErr != nil {
			w.logger.Printf("⚠️  mark delivered %d failed: %v", row.ID, markErr)
		}
		w.count("delivered")
		return
	}

	attempts := row.Attempts + 1
	if attempts <= w.cfg.MaxRetries {
		retryAt := time.Now().Add(w.cfg.BackoffBase * time.Duration(1<<uint(attempts)))
		if markErr := w.repo.MarkOutboundRetry(markCtx, row.ID, attempts, retryAt, err.Error()); markErr != nil {
			w.logger.Printf("⚠️  mark retry %d failed: %v", row.ID, markErr)
		}
		w.count("retry")
		w.logger.Printf("🔁 Row %d to %s attempt %d failed, retrying: %v", row.ID, row.TargetInstance, attempts, err)
		return
	}
	if markErr := w.repo.MarkOutboundFailed(markCtx, row.ID, attempts, err.Error()); markErr != nil {
		w.logger.Printf("⚠️  mark failed %d failed: %v", row.ID, markErr)
	}
	w.count("failed")
	w.logger.Printf("💀 Row %d to %s failed terminally after %d attempts: %v", row.ID, row.TargetInstance, attempts, err)
}

// deliver re-signs the stored envelope with the bridge key and posts it.
func (w *OutboundWorker) deliver(ctx context.Context, row database.OutboundMessage) error {
	env, err := proto.DecodeEnvelope(row.RawEnvelope)
	if err != nil {
		return fmt.Errorf("stored envelope unreadable: %w", err)
	}
	env.Signature = security.Sign(env.MessageData, w.cfg.SigningKey)
	body, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	url := strings.TrimRight(row.TargetURL, "/") + federationSendPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Chorus-Instance-Id", w.cfg.InstanceID)
	req.Header.Set("Idempotency-Key", uuid.New().String())
	if w.cfg.JWTSigningKey != nil {
		token, err := w.buildJWT(row.TargetInstance)
		if err != nil {
			return fmt.Errorf("build outbound jwt: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("target returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (w *OutboundWorker) buildJWT(targetInstance string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": w.cfg.InstanceID,
		"aud": targetInstance,
		"iat": now.Unix(),
		"exp": now.Add(outboundJWTLife).Unix(),
		"jti": uuid.New().String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(w.cfg.JWTSigningKey)
}

func (w *OutboundWorker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.OutboundDeliveries.WithLabelValues(outcome).Inc()
	}
}

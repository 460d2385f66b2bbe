package workers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/chorus-net/chorus-bridge/internal/database"
	"github.com/chorus-net/chorus-bridge/internal/metrics"
)

const activityJSONContentType = "application/activity+json"

// ActivityPubConfig tunes the fediverse delivery worker.
type ActivityPubConfig struct {
	Interval       time.Duration // default 60s
	RequestTimeout time.Duration // default 15s
	MaxRetries     int           // default 5
	BackoffBase    time.Duration // default 1s
}

// ActivityPubWorker drains the export ledger, posting built Notes to their
// target inboxes. Same checkout and retry discipline as the federation
// worker, distinct queue.
type ActivityPubWorker struct {
	cfg     ActivityPubConfig
	repo    database.Repository
	client  *http.Client
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewActivityPubWorker builds the worker. metrics may be nil.
func NewActivityPubWorker(cfg ActivityPubConfig, repo database.Repository, m *metrics.Metrics) *ActivityPubWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &ActivityPubWorker{
		cfg:     cfg,
		repo:    repo,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		metrics: m,
		logger:  log.New(log.Writer(), "[AP-EXPORT] ", log.LstdFlags),
	}
}

// Run ticks until ctx is cancelled.
func (w *ActivityPubWorker) Run(ctx context.Context) {
	w.logger.Printf("🚀 ActivityPub delivery worker started (interval %s)", w.cfg.Interval)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("🛑 ActivityPub delivery worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes one batch of due export jobs.
func (w *ActivityPubWorker) Tick(ctx context.Context) {
	if n, err := w.repo.RequeueStaleExports(ctx, time.Now().Add(-staleSendingAfter)); err != nil {
		w.logger.Printf("⚠️  stale requeue failed: %v", err)
	} else if n > 0 {
		w.logger.Printf("♻️  requeued %d stranded jobs", n)
	}

	due, err := w.repo.DueExports(ctx, time.Now(), batchSize)
	if err != nil {
		w.logger.Printf("⚠️  due query failed: %v", err)
		return
	}
	for _, job := range due {
		ok, err := w.repo.CheckoutExport(ctx, job.ID)
		if err != nil {
			w.logger.Printf("⚠️  checkout %d failed: %v", job.ID, err)
			continue
		}
		if !ok {
			continue
		}
		w.attempt(ctx, job)
	}
}

func (w *ActivityPubWorker) attempt(ctx context.Context, job database.ExportJob) {
	err := w.deliver(ctx, job)

	// Same detached-context rule as the federation worker: the row must
	// leave sending even if delivery was interrupted by shutdown.
	markCtx := context.WithoutCancel(ctx)
	if err == nil {
		if markErr := w.repo.MarkExportDelivered(markCtx, job.ID, time.Now()); markErr != nil {
			w.logger.Printf("⚠️  mark delivered %d failed: %v", job.ID, markErr)
		}
		w.count("delivered")
		w.logger.Printf("✅ Export %s delivered to %s", job.JobID, job.TargetURL)
		return
	}

	attempts := job.Attempts + 1
	if attempts <= w.cfg.MaxRetries {
		retryAt := time.Now().Add(w.cfg.BackoffBase * time.Duration(1<<uint(attempts)))
		if markErr := w.repo.MarkExportRetry(markCtx, job.ID, attempts, retryAt, err.Error()); markErr != nil {
			w.logger.Printf("⚠️  mark retry %d failed: %v", job.ID, markErr)
		}
		w.count("retry")
		return
	}
	if markErr := w.repo.MarkExportFailed(markCtx, job.ID, attempts, err.Error()); markErr != nil {
		w.logger.Printf("⚠️  mark failed %d failed: %v", job.ID, markErr)
	}
	w.count("failed")
	w.logger.Printf("💀 Export %s to %s failed terminally after %d attempts: %v", job.JobID, job.TargetURL, attempts, err)
}

func (w *ActivityPubWorker) deliver(ctx context.Context, job database.ExportJob) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.TargetURL, bytes.NewReader(job.RawPayload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", activityJSONContentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("inbox returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (w *ActivityPubWorker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.ExportDeliveries.WithLabelValues(outcome).Inc()
	}
}

// Chorus Bridge: federation edge between local Stage instances, the
// Conductor consensus backend, and the public ActivityPub fediverse.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chorus-net/chorus-bridge/internal/activitypub"
	"github.com/chorus-net/chorus-bridge/internal/api"
	"github.com/chorus-net/chorus-bridge/internal/bridge"
	"github.com/chorus-net/chorus-bridge/internal/circuitbreaker"
	"github.com/chorus-net/chorus-bridge/internal/conductor"
	"github.com/chorus-net/chorus-bridge/internal/config"
	"github.com/chorus-net/chorus-bridge/internal/database"
	"github.com/chorus-net/chorus-bridge/internal/metrics"
	"github.com/chorus-net/chorus-bridge/internal/middleware"
	"github.com/chorus-net/chorus-bridge/internal/security"
	"github.com/chorus-net/chorus-bridge/internal/trust"
	"github.com/chorus-net/chorus-bridge/internal/workers"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("📋 Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Configuration: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("❌ Bridge: %v", err)
	}
}

func run(cfg *config.Config) error {
	logger := log.New(log.Writer(), "[MAIN] ", log.LstdFlags)
	logger.Printf("🚀 Starting Chorus Bridge instance %s", cfg.InstanceID)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// ===== STORAGE =====

	var repo database.Repository
	if cfg.DatabaseURL != "" {
		pg, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		repo = pg
		logger.Println("🗄️  PostgreSQL repository ready")
	} else {
		repo = database.NewMemory()
		logger.Println("⚠️  No BRIDGE_DATABASE_URL set, using in-memory repository")
	}
	defer repo.Close()

	// ===== TRUST STORE =====

	trustStore := trust.NewStore()
	if cfg.TrustStorePath != "" {
		loaded, err := trust.LoadFile(cfg.TrustStorePath)
		if err != nil {
			return fmt.Errorf("trust store: %w", err)
		}
		trustStore = loaded
		logger.Printf("🔑 Trust store loaded: %d instances", trustStore.Len())
	}

	// ===== CONDUCTOR =====

	cond, err := buildConductor(cfg, m, logger)
	if err != nil {
		return err
	}
	defer cond.Close()

	// ===== KEYS =====

	var bridgeKey ed25519.PrivateKey
	if cfg.Federation.BridgePrivateKeyHex != "" {
		bridgeKey, err = security.PrivateKeyFromHex(cfg.Federation.BridgePrivateKeyHex, "bridge private key")
		if err != nil {
			return err
		}
	} else if len(cfg.Federation.TargetStages) > 0 {
		return fmt.Errorf("federation targets configured but BRIDGE_PRIVATE_KEY_HEX is not set")
	}

	var jwtSigningKey ed25519.PrivateKey
	if cfg.Auth.JWTSigningKeyHex != "" {
		jwtSigningKey, err = security.PrivateKeyFromHex(cfg.Auth.JWTSigningKeyHex, "JWT signing key")
		if err != nil {
			return err
		}
	}

	// ===== CORE =====

	var targets []bridge.FederationTarget
	for id, url := range cfg.ParseTargetStages() {
		targets = append(targets, bridge.FederationTarget{InstanceID: id, URL: url})
	}

	core := bridge.New(bridge.Config{
		InstanceID:         cfg.InstanceID,
		ReplayTTL:          time.Duration(cfg.Pipeline.ReplayCacheTTLSeconds) * time.Second,
		IdempotencyTTL:     time.Duration(cfg.Pipeline.IdempotencyTTLSeconds) * time.Second,
		FederationTargets:  targets,
		ActivityPubTargets: cfg.Export.Targets,
		EnabledTypes:       cfg.Pipeline.EnabledMessageTypes,
		QuarantineInvalid:  cfg.Pipeline.QuarantineInvalid,
		TrustStorePath:     cfg.TrustStorePath,
	}, repo, cond, trustStore, activitypub.NewTranslator(cfg.Export.GenesisTimestamp, cfg.Export.ActorDomain), m)

	// ===== MIDDLEWARE =====

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, m)

	var auth *middleware.JWTAuthenticator
	if cfg.Auth.InboundJWTKeyHex != "" {
		verifyKey, err := security.PublicKeyFromHex(cfg.Auth.InboundJWTKeyHex, "inbound JWT public key")
		if err != nil {
			return err
		}
		auth = middleware.NewJWTAuthenticator(cfg.InstanceID, verifyKey, repo, cfg.Auth.Enforce)
	} else if cfg.Auth.Enforce {
		return fmt.Errorf("BRIDGE_JWT_ENFORCE is set but BRIDGE_INBOUND_JWT_PUBLIC_KEY_HEX is not")
	}

	// ===== WORKERS =====

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	if len(targets) > 0 {
		outbound := workers.NewOutboundWorker(workers.OutboundConfig{
			InstanceID:     cfg.InstanceID,
			Interval:       time.Duration(cfg.Federation.WorkerIntervalSeconds) * time.Second,
			RequestTimeout: time.Duration(cfg.Federation.RequestTimeoutSeconds) * time.Second,
			MaxRetries:     cfg.Federation.MaxRetries,
			BackoffBase:    time.Duration(cfg.Federation.BackoffBaseMs) * time.Millisecond,
			SigningKey:     bridgeKey,
			JWTSigningKey:  jwtSigningKey,
		}, repo, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			outbound.Run(ctx)
		}()
		logger.Printf("📤 Outbound federation worker started (%d targets)", len(targets))
	}

	if len(cfg.Export.Targets) > 0 {
		apWorker := workers.NewActivityPubWorker(workers.ActivityPubConfig{
			Interval:       time.Duration(cfg.Export.WorkerIntervalSeconds) * time.Second,
			RequestTimeout: time.Duration(cfg.Export.RequestTimeoutSeconds) * time.Second,
			MaxRetries:     cfg.Export.MaxRetries,
		}, repo, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			apWorker.Run(ctx)
		}()
		logger.Printf("🌐 ActivityPub export worker started (%d targets)", len(cfg.Export.Targets))
	}

	// ===== HTTP SERVERS =====

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewServer(core, repo, limiter, auth, m).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Printf("🌍 API listening on :%d", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Printf("📊 Metrics listening on :%d", cfg.PrometheusPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// ===== SHUTDOWN =====

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("🛑 Received %s, shutting down", sig)
	case err := <-errCh:
		logger.Printf("🛑 Server error, shutting down: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("⚠️  API shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("⚠️  Metrics shutdown: %v", err)
	}

	cancel()
	wg.Wait()
	logger.Println("✅ Bridge stopped cleanly")
	return nil
}

// buildConductor assembles the configured transport stack: one client per
// endpoint, a failover pool when there are several, and a day proof cache
// in front of the whole thing.
func buildConductor(cfg *config.Config, m *metrics.Metrics, logger *log.Logger) (conductor.Client, error) {
	ccfg := cfg.Conductor

	var members []conductor.Client
	switch ccfg.Mode {
	case "memory":
		members = []conductor.Client{conductor.NewInMemoryClient()}
		logger.Println("🎼 Conductor: in-memory backend")
	case "http":
		for i, endpoint := range ccfg.Endpoints {
			members = append(members, conductor.NewHTTPClient(conductor.HTTPClientConfig{
				BaseURL:        endpoint,
				RequestTimeout: ccfg.Timeout(),
				MaxRetries:     ccfg.MaxRetries,
				RetryBackoff:   ccfg.RetryDelay(),
				Breaker:        breakerConfig(ccfg, m, fmt.Sprintf("conductor-http-%d", i)),
			}))
		}
		logger.Printf("🎼 Conductor: %d HTTP backend(s)", len(members))
	case "grpc":
		for i, endpoint := range ccfg.Endpoints {
			client, err := conductor.NewGRPCClient(conductor.GRPCClientConfig{
				Target:         endpoint,
				RequestTimeout: ccfg.Timeout(),
				MaxRetries:     ccfg.MaxRetries,
				RetryBackoff:   ccfg.RetryDelay(),
				Breaker:        breakerConfig(ccfg, m, fmt.Sprintf("conductor-grpc-%d", i)),
			})
			if err != nil {
				return nil, err
			}
			members = append(members, client)
		}
		logger.Printf("🎼 Conductor: %d gRPC backend(s)", len(members))
	default:
		return nil, fmt.Errorf("unsupported conductor mode %q", ccfg.Mode)
	}

	var backend conductor.Client
	if len(members) == 1 {
		backend = members[0]
		m.PoolHealthyClients.Set(1)
	} else {
		pool, err := conductor.NewPool(members, conductor.PoolConfig{
			HealthInterval: ccfg.HealthInterval(),
			RetryBackoff:   ccfg.RetryDelay(),
			MaxRetries:     ccfg.MaxRetries,
			OnHealthChange: func(healthy int) {
				m.PoolHealthyClients.Set(float64(healthy))
			},
		})
		if err != nil {
			return nil, err
		}
		m.PoolHealthyClients.Set(float64(len(members)))
		backend = pool
	}
	return conductor.NewCachedClient(backend, ccfg.CacheMaxSize, ccfg.CacheTTL()), nil
}

func breakerConfig(ccfg config.ConductorConfig, m *metrics.Metrics, name string) circuitbreaker.Config {
	bcfg := circuitbreaker.DefaultConfig(name)
	bcfg.FailureThreshold = ccfg.CBFailureThreshold
	bcfg.RecoveryTimeout = ccfg.CBRecovery()
	bcfg.OnStateChange = func(breakerName string, from, to circuitbreaker.State) {
		log.Printf("[CircuitBreaker:%s] State change: %s -> %s", breakerName, from, to)
		m.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(to))
	}
	return bcfg
}

package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/mapindex/tollgate/internal/admission"
	"github.com/mapindex/tollgate/internal/analytics"
	"github.com/mapindex/tollgate/internal/api"
	"github.com/mapindex/tollgate/internal/config"
	"github.com/mapindex/tollgate/internal/identity"
	"github.com/mapindex/tollgate/internal/limiter"
	"github.com/mapindex/tollgate/internal/metrics"
	"github.com/mapindex/tollgate/internal/proxy"
	"github.com/mapindex/tollgate/internal/quota"
	"github.com/mapindex/tollgate/internal/tier"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	slog.SetLogLoggerLevel(logLevel(cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := newQuotaStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize quota store: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("failed to close quota store: %v", closeErr)
		}
	}()

	classifier, err := tier.NewClassifier(cfg.Policies, tier.DefaultRoutes())
	if err != nil {
		log.Fatalf("failed to build tier classifier: %v", err)
	}

	resolver := identity.NewResolver(identity.WithPrincipalHeader(cfg.PrincipalHeader))

	lim, err := limiter.New(store, limiter.Config{StoreTimeout: cfg.StoreTimeout})
	if err != nil {
		log.Fatalf("failed to initialize limiter: %v", err)
	}

	upstream, err := proxy.New(cfg.UpstreamURL)
	if err != nil {
		log.Fatalf("failed to initialize upstream proxy: %v", err)
	}

	broker := api.NewStreamBroker(64)

	// Analytics persistence is optional; an empty DATABASE_URL disables it.
	var (
		eventLogger   *analytics.Logger
		statsProvider api.StatsProvider
	)
	if cfg.DatabaseURL != "" {
		db, dbErr := sql.Open("postgres", cfg.DatabaseURL)
		if dbErr != nil {
			log.Fatalf("failed to open analytics database: %v", dbErr)
		}

		eventLogger, err = analytics.New(analytics.Config{DB: db})
		if err != nil {
			log.Fatalf("failed to initialize analytics logger: %v", err)
		}

		queries, qErr := analytics.NewQueryService(db)
		if qErr != nil {
			log.Fatalf("failed to initialize analytics queries: %v", qErr)
		}
		statsProvider = queries

		log.Println("analytics: decision persistence enabled")
	} else {
		log.Println("analytics: DATABASE_URL not set, decision persistence disabled")
	}

	sink := decisionSink(eventLogger, broker)

	gate, err := admission.New(upstream, classifier, resolver, lim, admission.WithDecisionSink(sink))
	if err != nil {
		log.Fatalf("failed to initialize admission middleware: %v", err)
	}

	adminHandlers := requireAdminToken(cfg.AdminAPIToken, adminMux(classifier, store, statsProvider, broker))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/admin/", adminHandlers)
	mux.Handle("/", gate)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("tollgate listening on %s (backend=%s, upstream=%s)",
			cfg.ListenAddr, cfg.QuotaBackend, cfg.UpstreamURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down tollgate...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if eventLogger != nil {
		if err := eventLogger.Close(shutdownCtx); err != nil {
			log.Printf("analytics shutdown error: %v", err)
		}
	}
}

// newQuotaStore selects the quota backend per configuration.
func newQuotaStore(ctx context.Context, cfg *config.Config) (quota.Store, error) {
	if cfg.QuotaBackend == config.BackendMemory {
		log.Println("quota: using in-memory store")
		return quota.NewMemoryStore(), nil
	}

	redisCfg := quota.DefaultRedisConfig()
	redisCfg.Addr = cfg.RedisAddr

	return quota.NewRedisStore(ctx, redisCfg)
}

// decisionSink fans each terminal admission decision out to metrics,
// the live stream broker, and (when configured) the analytics logger.
func decisionSink(eventLogger *analytics.Logger, broker *api.StreamBroker) func(admission.Decision) {
	return func(d admission.Decision) {
		outcome := metrics.OutcomeAllowed
		switch {
		case d.Exempt:
			outcome = metrics.OutcomeExempt
		case !d.Allowed:
			outcome = metrics.OutcomeDenied
		}

		metrics.AdmissionDecisions.WithLabelValues(d.Tier, outcome).Inc()
		if d.Degraded {
			metrics.StoreFailures.Inc()
		}
		if !d.Exempt {
			metrics.QuotaCheckDuration.Observe(d.CheckDuration.Seconds())
		}

		broker.Publish(api.StreamEvent{
			Timestamp: d.Timestamp,
			RequestID: d.RequestID,
			ClientKey: d.ClientKey,
			Tier:      d.Tier,
			Method:    d.Method,
			Path:      d.Path,
			Allowed:   d.Allowed,
			Exempt:    d.Exempt,
			Limit:     d.Limit,
			Remaining: d.Remaining,
			Status:    d.Status,
		})

		// Exempt traffic is not persisted; only tiered decisions matter
		// for quota analytics.
		if eventLogger != nil && !d.Exempt {
			eventLogger.Log(analytics.Event{
				Timestamp: d.Timestamp,
				RequestID: d.RequestID,
				ClientKey: d.ClientKey,
				Tier:      d.Tier,
				Method:    d.Method,
				Path:      d.Path,
				Allowed:   d.Allowed,
				Limit:     d.Limit,
				Remaining: d.Remaining,
				Status:    d.Status,
			})
		}
	}
}

// adminMux wires the management API handlers under /admin/.
func adminMux(classifier *tier.Classifier, store quota.Store, statsProvider api.StatsProvider, broker *api.StreamBroker) http.Handler {
	tiersHandler := api.NewTiersHandler(classifier)
	quotaHandler := api.NewQuotaHandler(store, classifier)
	statsHandler := api.NewStatsHandler(statsProvider)
	streamHandler := api.NewStreamHandler(broker)

	mux := http.NewServeMux()
	mux.Handle("/admin/tiers", tiersHandler)
	mux.Handle("/admin/tiers/", tiersHandler)
	mux.Handle("/admin/quota/", quotaHandler)
	mux.Handle("/admin/stats/", statsHandler)
	mux.Handle("/admin/stream", streamHandler)

	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok","service":"tollgate"}`)); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func requireAdminToken(expectedToken string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(expectedToken) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			if _, err := w.Write([]byte(`{"error":"admin API token not configured"}`)); err != nil {
				log.Printf("failed to write response: %v", err)
			}
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		}

		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tollgate-admin"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			if _, err := w.Write([]byte(`{"error":"missing admin token"}`)); err != nil {
				log.Printf("failed to write response: %v", err)
			}
			return
		}

		if token != expectedToken {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			if _, err := w.Write([]byte(`{"error":"invalid admin token"}`)); err != nil {
				log.Printf("failed to write response: %v", err)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

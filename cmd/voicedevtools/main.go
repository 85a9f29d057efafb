package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/audio"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/config"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/credential"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/history"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/httpapi"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/observability"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/rtsession"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/transport"
)

func main() {
	// .env is optional; environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()

	providers := provider.NewRegistry()
	engine := audio.NewEngine(cfg.SampleRate)

	exchange := credential.NewHosted(nil, func(p provider.Provider) string {
		return cfg.APIKeyFor(p.Name)
	})

	negotiator := transport.NewNegotiator(transport.Options{Engine: engine})

	controller := rtsession.NewController(rtsession.ControllerConfig{
		Credentials:    exchange,
		Transport:      rtsession.NewTransport(negotiator),
		Engine:         engine,
		Metrics:        metrics,
		ConnectTimeout: cfg.SessionConnectTimeout,
		TrimPadding:    cfg.UserSpeechTrimPadding,
		StopGrace:      cfg.BotSpeechStopGrace,
		OnFinished: func(sum rtsession.Summary) {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			rec := history.SessionRecord{
				ID:           sum.ID,
				Provider:     sum.Provider,
				Model:        sum.Model,
				StartedAt:    sum.StartedAt,
				EndedAt:      sum.EndedAt,
				DurationMS:   sum.EndedAt.Sub(sum.StartedAt).Milliseconds(),
				MessageCount: sum.MessageCount,
				CostUSD:      sum.Cost.TotalUSD,
			}
			if err := store.SaveSession(saveCtx, rec); err != nil {
				log.Printf("save session history failed: %v", err)
			}
		},
	})

	api := httpapi.New(cfg, providers, exchange, controller, store, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go api.Run(runCtx)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	_ = controller.StopSession()
	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

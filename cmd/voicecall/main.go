package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/audio"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/config"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/credential"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/reliability"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/rtsession"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/transport"
)

type options struct {
	providerName string
	model        string
	voice        string
	instructions string
	texts        []string
	duration     time.Duration
	retries      int
	verbose      bool
}

func parseFlags() options {
	var opts options
	var texts string
	flag.StringVar(&opts.providerName, "provider", "", "provider name (openai|outspeed); defaults to APP_DEFAULT_PROVIDER")
	flag.StringVar(&opts.model, "model", "", "model id; defaults to the provider's default")
	flag.StringVar(&opts.voice, "voice", "", "voice id; defaults to the provider's default")
	flag.StringVar(&opts.instructions, "instructions", "", "system instructions for the session")
	flag.StringVar(&texts, "texts", "", "comma-separated user text turns to send once active")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "how long to keep the session open")
	flag.IntVar(&opts.retries, "retries", 2, "retries for transient start failures")
	flag.BoolVar(&opts.verbose, "v", false, "log every server event")
	flag.Parse()
	if texts != "" {
		for _, t := range strings.Split(texts, ",") {
			if t = strings.TrimSpace(t); t != "" {
				opts.texts = append(opts.texts, t)
			}
		}
	}
	return opts
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	providers := provider.NewRegistry()
	name := opts.providerName
	if name == "" {
		name = cfg.DefaultProvider
	}
	p, err := providers.Get(name)
	if err != nil {
		log.Fatalf("%v", err)
	}

	sessionCfg := provider.DefaultSessionConfig(p)
	if opts.model != "" {
		sessionCfg.Model = opts.model
	}
	if opts.voice != "" {
		sessionCfg.Voice = opts.voice
	}
	if opts.instructions != "" {
		sessionCfg.Instructions = opts.instructions
	}

	engine := audio.NewEngine(cfg.SampleRate)
	exchange := credential.NewHosted(nil, func(p provider.Provider) string {
		return cfg.APIKeyFor(p.Name)
	})
	negotiator := transport.NewNegotiator(transport.Options{Engine: engine})

	controller := rtsession.NewController(rtsession.ControllerConfig{
		Credentials:    exchange,
		Transport:      rtsession.NewTransport(negotiator),
		Engine:         engine,
		ConnectTimeout: cfg.SessionConnectTimeout,
		TrimPadding:    cfg.UserSpeechTrimPadding,
		StopGrace:      cfg.BotSpeechStopGrace,
		OnFinished: func(sum rtsession.Summary) {
			fmt.Printf("session %s finished: %d messages, $%.4f\n", sum.ID, sum.MessageCount, sum.Cost.TotalUSD)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := startWithRetry(ctx, controller, p, sessionCfg, opts.retries); err != nil {
		log.Fatalf("session start failed: %v", err)
	}
	defer controller.StopSession()

	log.Printf("session starting: provider=%s model=%s", p.Name, sessionCfg.Model)

	deadline := time.NewTimer(opts.duration)
	defer deadline.Stop()

	pending := opts.texts
	for {
		select {
		case <-ctx.Done():
			log.Printf("interrupted")
			return
		case <-deadline.C:
			log.Printf("duration elapsed")
			return
		case e := <-controller.Events():
			switch e.Kind {
			case rtsession.EventState:
				log.Printf("state: %s", e.State)
				if e.State == rtsession.StateActive {
					for _, t := range pending {
						if err := controller.SendTextMessage(t); err != nil {
							log.Printf("send failed: %v", err)
							break
						}
					}
					pending = nil
				}
				if e.State == rtsession.StateInactive {
					return
				}
			case rtsession.EventMessage:
				if m := e.Message; m != nil && m.Text != nil && !m.Text.Streaming {
					fmt.Printf("[%s] %s\n", m.Role, m.Text.Content)
				}
			case rtsession.EventError:
				log.Printf("error: %s", e.Error)
			case rtsession.EventServer:
				if opts.verbose && e.Server != nil {
					log.Printf("server event: %s", e.Server.Type)
				}
			}
		}
	}
}

// isTransientStart reports whether a start failure is worth retrying:
// server-side credential errors and abnormal signaling-socket closures.
func isTransientStart(err error) bool {
	var cerr *credential.Error
	if errors.As(err, &cerr) {
		return cerr.Transient
	}
	var scerr *transport.SignalCloseError
	if errors.As(err, &scerr) {
		return reliability.IsRetryableCloseCode(scerr.Code)
	}
	return false
}

// startWithRetry retries transient credential failures with capped
// exponential backoff. Configuration mistakes (no API key, bad model)
// fail immediately.
func startWithRetry(ctx context.Context, c *rtsession.Controller, p provider.Provider, cfg provider.SessionConfig, retries int) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = c.StartSession(ctx, p, cfg)
		if err == nil {
			return nil
		}
		if attempt >= retries || !isTransientStart(err) {
			return err
		}
		delay := reliability.ExponentialBackoff(attempt, 500*time.Millisecond, 5*time.Second)
		log.Printf("transient start failure (attempt %d): %v; retrying in %s", attempt+1, err, delay)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

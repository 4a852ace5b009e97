package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/leadflow/internal/config"
	"github.com/fyrsmithlabs/leadflow/internal/conversation"
	"github.com/fyrsmithlabs/leadflow/internal/extraction"
	httpserver "github.com/fyrsmithlabs/leadflow/internal/http"
	"github.com/fyrsmithlabs/leadflow/internal/leads"
	"github.com/fyrsmithlabs/leadflow/internal/notify"
	"github.com/fyrsmithlabs/leadflow/internal/ratelimit"
	"github.com/fyrsmithlabs/leadflow/internal/redact"
	"github.com/fyrsmithlabs/leadflow/internal/session"
	"github.com/fyrsmithlabs/leadflow/internal/telemetry"
)

// pruner is implemented by limiters that hold windows in process.
type pruner interface {
	Prune(ctx context.Context) int
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	redis      *redis.Client
	natsConn   *nats.Conn
	store      session.Store
	limiter    conversation.RateLimiter
	locks      *session.KeyedLock
	dispatcher *notify.Dispatcher
	archive    *leads.Repository
	redactor   *redact.Scrubber
	checks     map[string]httpserver.Pinger
	logger     *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.archive != nil {
		_ = d.archive.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

// pingFunc adapts a function to httpserver.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// initDependencies connects to the configured backends.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{
		locks:  session.NewKeyedLock(cfg.Session.LockTimeout.Duration()),
		checks: make(map[string]httpserver.Pinger),
		logger: logger,
	}

	if cfg.Session.Store == config.BackendRedis || cfg.RateLimit.Backend == config.BackendRedis {
		deps.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		if err := deps.redis.Ping(ctx).Err(); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
		client := deps.redis
		deps.checks["redis"] = pingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	rlCfg := ratelimit.Config{Window: cfg.RateLimit.Window.Duration(), Limit: cfg.RateLimit.MaxMessages}
	var err error
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		deps.limiter, err = ratelimit.NewRedis(deps.redis, cfg.Redis.KeyPrefix, rlCfg)
	default:
		deps.limiter, err = ratelimit.NewMemory(rlCfg)
	}
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	ttl := cfg.Session.IdleTTL.Duration()
	switch cfg.Session.Store {
	case config.BackendRedis:
		deps.store = session.NewRedisStore(deps.redis, cfg.Redis.KeyPrefix, ttl)
	default:
		deps.store = session.NewMemoryStore(ttl, session.WithEvictHook(deps.forgetWindow))
	}

	if cfg.Archive.Enabled {
		deps.archive, err = leads.Open(ctx, cfg.Archive.Driver, cfg.Archive.DSN.Value())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to open lead archive: %w", err)
		}
		if err := deps.archive.Migrate(ctx); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to migrate lead archive: %w", err)
		}
		deps.checks["archive"] = deps.archive
		logger.Info("Lead archive ready", zap.String("driver", cfg.Archive.Driver))
	}

	sink, err := deps.initSink(cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	rcfg := redact.DefaultConfig()
	rcfg.Enabled = !cfg.Redaction.Disabled
	rcfg.AllowList = cfg.Redaction.AllowList
	deps.redactor, err = redact.New(rcfg)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("invalid redaction config: %w", err)
	}

	dopts := []notify.Option{
		notify.WithLogger(logger),
		notify.WithRegisterer(prometheus.DefaultRegisterer),
		notify.WithRedactor(deps.redactor),
	}
	if deps.archive != nil {
		dopts = append(dopts, notify.WithFailureRecorder(deps.archive))
	}
	deps.dispatcher, err = notify.New(sink, notify.Config{
		Workers:        cfg.Notify.Workers,
		QueueSize:      cfg.Notify.QueueSize,
		AttemptTimeout: cfg.Notify.AttemptTimeout.Duration(),
		SendRate:       cfg.Notify.SendRate,
		SendBurst:      cfg.Notify.SendBurst,
		HistorySize:    cfg.Notify.HistorySize,
		Retry: notify.RetryPolicy{
			MaxAttempts:    cfg.Notify.Retry.MaxAttempts,
			InitialBackoff: cfg.Notify.Retry.InitialBackoff.Duration(),
			MaxBackoff:     cfg.Notify.Retry.MaxBackoff.Duration(),
			Multiplier:     cfg.Notify.Retry.Multiplier,
		},
		Breaker: notify.BreakerConfig{
			Threshold: cfg.Notify.Breaker.Threshold,
			Window:    cfg.Notify.Breaker.Window.Duration(),
			Cooldown:  cfg.Notify.Breaker.Cooldown.Duration(),
		},
	}, dopts...)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	deps.dispatcher.Start()

	return deps, nil
}

// initSink builds the configured notification sink.
func (d *dependencies) initSink(cfg *config.Config, logger *zap.Logger) (notify.Sink, error) {
	switch cfg.Notify.Sink {
	case config.SinkWhatsApp:
		sink, err := notify.NewWhatsAppSink(notify.WhatsAppConfig{
			BaseURL: cfg.Notify.WhatsApp.BaseURL,
			APIKey:  cfg.Notify.WhatsApp.APIKey.Value(),
			Timeout: cfg.Notify.WhatsApp.Timeout.Duration(),

			LawyerNumbers: cfg.Notify.WhatsApp.LawyerNumbers,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create whatsapp sink: %w", err)
		}
		d.checks["whatsapp"] = pingFunc(func(ctx context.Context) error {
			h, err := sink.Health(ctx)
			if err != nil {
				return err
			}
			if !h.Connected {
				return errors.New("gateway not connected")
			}
			return nil
		})
		logger.Info("WhatsApp sink configured",
			zap.String("base_url", cfg.Notify.WhatsApp.BaseURL),
			zap.Int("lawyers", len(cfg.Notify.WhatsApp.LawyerNumbers)))
		return sink, nil

	case config.SinkNATS:
		nc, err := nats.Connect(cfg.Notify.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Notify.NATS.URL, err)
		}
		d.natsConn = nc
		sink, err := notify.NewNATSSink(nc, notify.NATSConfig{
			Subject: cfg.Notify.NATS.Subject,
			Stream:  cfg.Notify.NATS.Stream,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create nats sink: %w", err)
		}
		d.checks["nats"] = pingFunc(func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
		logger.Info("Connected to NATS",
			zap.String("url", cfg.Notify.NATS.URL),
			zap.String("stream", cfg.Notify.NATS.Stream))
		return sink, nil

	default:
		return notify.NewLogSink(logger), nil
	}
}

// forgetWindow drops the rate window of an expired session.
func (d *dependencies) forgetWindow(ctx context.Context, s *session.Session) {
	if err := d.limiter.Forget(ctx, s.ID); err != nil {
		d.logger.Warn("forget rate window", zap.String("session.id", s.ID), zap.Error(err))
	}
}

// startBackground runs the session sweeper and, for in-process limiters,
// window pruning until ctx is done.
func (d *dependencies) startBackground(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	sweeper := session.NewSweeper(d.store, cfg.Session.SweepInterval.Duration(), logger, d.forgetWindow)
	go sweeper.Run(ctx)

	if p, ok := d.limiter.(pruner); ok {
		interval := cfg.RateLimit.Window.Duration()
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := p.Prune(ctx); n > 0 {
						logger.Debug("pruned rate windows", zap.Int("count", n))
					}
				}
			}
		}()
	}
}

// initEngine builds the conversation engine.
func initEngine(cfg *config.Config, deps *dependencies, tel *telemetry.Telemetry, logger *zap.Logger) (*conversation.Engine, error) {
	rules := extraction.DefaultRules().Merge(cfg.Extraction.Weights, cfg.Extraction.AreaKeywords, cfg.Extraction.MaxMessageLength)
	extractor, err := extraction.NewHeuristic(rules)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}

	metrics, err := conversation.NewMetrics(tel.Meter(conversation.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("engine metrics: %w", err)
	}

	opts := []conversation.Option{
		conversation.WithLogger(logger),
		conversation.WithMetrics(metrics),
		conversation.WithTracer(tel.Tracer(conversation.InstrumentationName)),
		conversation.WithNotifier(deps.dispatcher),
		conversation.WithRedactor(deps.redactor),
	}
	if deps.archive != nil {
		opts = append(opts, conversation.WithArchive(deps.archive))
	}
	if cfg.Engine.FlowFile != "" {
		flow, err := conversation.LoadFlow(cfg.Engine.FlowFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, conversation.WithFlow(flow))
	}

	return conversation.New(deps.store, deps.limiter, deps.locks, extractor, conversation.Config{
		RequiredFields: cfg.Engine.RequiredFields,
		TurnTimeout:    cfg.Engine.TurnTimeout.Duration(),
		MergePolicy:    conversation.MergePolicy(cfg.Engine.MergePolicy),
		Location:       loc,
		RetryAfter:     cfg.RateLimit.RetryAfter.Duration(),
	}, opts...)
}

package cmd

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/verimail/engine/pkg/batch"
	"github.com/verimail/engine/pkg/cache"
	"github.com/verimail/engine/pkg/config"
	"github.com/verimail/engine/pkg/dnsx"
	"github.com/verimail/engine/pkg/govern"
	"github.com/verimail/engine/pkg/metrics"
	"github.com/verimail/engine/pkg/policy"
	"github.com/verimail/engine/pkg/smtpprobe"
	"github.com/verimail/engine/pkg/verifier"
)

// runtime bundles everything a command needs: the engine, the batch
// store and the shutdown hooks.
type runtime struct {
	cfg      *config.Config
	log      *zap.Logger
	store    cache.Store
	engine   *verifier.Engine
	batch    *batch.Store
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	closers []func() error
}

// newRuntime loads the configuration and wires the engine. An empty
// path uses the defaults.
func newRuntime(configFile string) (*runtime, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, err
		}
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewRedis(cfg.RedisURL, log)
	if err != nil {
		return nil, err
	}

	var (
		m        *metrics.Metrics
		registry *prometheus.Registry
	)
	if cfg.EnableMetrics {
		registry = prometheus.NewRegistry()
		m = metrics.New(registry)
	}

	resolver := dnsx.New(cfg.DNS, time.Duration(cfg.Cache.MXTTLSec)*time.Second, store, log)

	engine := verifier.New(verifier.Deps{
		Store:       store,
		Resolver:    resolver.WithAlt(false),
		AltResolver: resolver.WithAlt(true),
		Policy:      policy.New(),
		Governor:    govern.New(store, cfg.RateLimits, cfg.IPPool, log),
		Prober: smtpprobe.New(smtpprobe.Config{
			HeloDomain:   cfg.SMTP.HeloDomain,
			MailFrom:     cfg.SMTP.MailFrom,
			Ports:        cfg.SMTP.Ports,
			OpTimeout:    time.Duration(cfg.SMTP.OpTimeoutSec) * time.Second,
			TotalTimeout: time.Duration(cfg.SMTP.TotalTimeoutSec) * time.Second,
		}, log),
		Metrics: m,
		Logger:  log,
		Cache:   cfg.Cache,
	})

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	batchClient := redis.NewClient(opt)
	batchStore := batch.NewStore(batchClient, cfg.QueuePrefix,
		time.Duration(cfg.Batch.RetentionDays)*24*time.Hour)

	rt := &runtime{
		cfg:      cfg,
		log:      log,
		store:    store,
		engine:   engine,
		batch:    batchStore,
		metrics:  m,
		registry: registry,
	}
	rt.closers = append(rt.closers, store.Close, batchClient.Close, func() error {
		_ = log.Sync()
		return nil
	})
	return rt, nil
}

// Close releases the runtime's connections.
func (r *runtime) Close() {
	for _, c := range r.closers {
		_ = c()
	}
}

// newLogger builds the production zap logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

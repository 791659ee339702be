// Package main is the entry point for the kauthd login service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/kauthdev/kauth"
	"github.com/kauthdev/kauth/cache"
	"github.com/kauthdev/kauth/engine"
	"github.com/kauthdev/kauth/events"
	"github.com/kauthdev/kauth/health"
	"github.com/kauthdev/kauth/internal/jwt"
	"github.com/kauthdev/kauth/internal/repository"
	"github.com/kauthdev/kauth/internal/server"
	"github.com/kauthdev/kauth/logger"
	"github.com/kauthdev/kauth/metrics"
	"github.com/kauthdev/kauth/provider/kakao"
	"github.com/kauthdev/kauth/provider/naver"
	"github.com/kauthdev/kauth/tracing"
)

// Config holds the kauthd service configuration.
type Config struct {
	HTTP server.Config `mapstructure:"http"`

	Providers struct {
		RedirectURL string `mapstructure:"redirect_url"`
		Kakao       struct {
			ClientID     string `mapstructure:"client_id"`
			ClientSecret string `mapstructure:"client_secret"`
			CollectPhone bool   `mapstructure:"collect_phone"`
		} `mapstructure:"kakao"`
		Naver struct {
			ClientID     string `mapstructure:"client_id"`
			ClientSecret string `mapstructure:"client_secret"`
		} `mapstructure:"naver"`
	} `mapstructure:"providers"`

	Database struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		User            string        `mapstructure:"user"`
		Password        string        `mapstructure:"password"`
		Name            string        `mapstructure:"name"`
		SSLMode         string        `mapstructure:"ssl_mode"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	} `mapstructure:"database"`

	JWT struct {
		PrivateKeyPath string        `mapstructure:"private_key_path"`
		PublicKeyPath  string        `mapstructure:"public_key_path"`
		TokenTTL       time.Duration `mapstructure:"token_ttl"`
		Issuer         string        `mapstructure:"issuer"`
	} `mapstructure:"jwt"`

	Redis cache.Config  `mapstructure:"redis"`
	NATS  events.Config `mapstructure:"nats"`

	Audit struct {
		Retention     time.Duration `mapstructure:"retention"`
		PurgeSchedule string        `mapstructure:"purge_schedule"`
	} `mapstructure:"audit"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Tracing struct {
		Enabled    bool    `mapstructure:"enabled"`
		Endpoint   string  `mapstructure:"endpoint"`
		SampleRate float64 `mapstructure:"sample_rate"`
		Insecure   bool    `mapstructure:"insecure"`
	} `mapstructure:"tracing"`

	StateTTL time.Duration `mapstructure:"state_ttl"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "kauthd",
		Environment: os.Getenv("ENVIRONMENT"),
	})

	log := logger.Default()
	log.Info("starting kauthd",
		"kakao_enabled", cfg.Providers.Kakao.ClientID != "",
		"naver_enabled", cfg.Providers.Naver.ClientID != "",
	)

	// Tracing
	var tracingCleanup func(context.Context) error
	if cfg.Tracing.Enabled {
		var err error
		tracingCleanup, err = tracing.InitGlobal(tracing.Config{
			ServiceName:    "kauthd",
			ServiceVersion: version(),
			Environment:    os.Getenv("ENVIRONMENT"),
			Endpoint:       cfg.Tracing.Endpoint,
			SampleRate:     cfg.Tracing.SampleRate,
			Insecure:       cfg.Tracing.Insecure,
			Enabled:        true,
		})
		if err != nil {
			log.Error("failed to initialize tracing", "error", err)
		} else {
			log.Info("tracing initialized", "endpoint", cfg.Tracing.Endpoint)
		}
	}

	// Metrics
	metricsInstance := metrics.Init(metrics.Config{
		ServiceName: "kauthd",
		Namespace:   "kauth",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	dbPool, err := initDatabase(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := dbPool.Stat()
				metricsInstance.SetDBConnections("postgres",
					int(stats.AcquiredConns()),
					int(stats.IdleConns()),
				)
			case <-ctx.Done():
				return
			}
		}
	}()

	repo := repository.NewPostgres(dbPool)

	// Session tokens
	jwtManager, err := jwt.NewManager(jwt.Config{
		PrivateKeyPath: cfg.JWT.PrivateKeyPath,
		PublicKeyPath:  cfg.JWT.PublicKeyPath,
		TokenTTL:       cfg.JWT.TokenTTL,
		Issuer:         cfg.JWT.Issuer,
	})
	if err != nil {
		log.Error("failed to initialize session token manager", "error", err)
		os.Exit(1)
	}

	// Redis is optional. Without it login state falls back to memory, which
	// is fine for a single instance.
	var cacheClient *cache.Client
	if cfg.Redis.Address != "" {
		var err error
		cacheClient, err = cache.New(cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to Redis, using in-memory login state", "error", err)
			cacheClient = nil
		} else {
			log.Info("connected to Redis", "address", cfg.Redis.Address)
		}
	}

	// NATS is optional. Without it login events are simply not published.
	var eventsClient *events.Client
	if cfg.NATS.URL != "" {
		var err error
		eventsClient, err = events.New(cfg.NATS)
		if err != nil {
			log.Warn("failed to connect to NATS, continuing without events", "error", err)
			eventsClient = nil
		} else {
			log.Info("connected to NATS", "url", cfg.NATS.URL)
		}
	}

	// Login state store
	var states engine.StateStore
	var memStates *engine.MemoryStateStore
	if cacheClient != nil {
		states = engine.NewRedisStateStore(cacheClient)
	} else {
		memStates = engine.NewMemoryStateStore()
		states = memStates
	}

	// Provider composition
	kauthCfg := kauth.Config{
		Engine: &engine.Options{
			RedirectURL: cfg.Providers.RedirectURL,
			StateTTL:    cfg.StateTTL,
			States:      states,
			Logger:      log,
			Metrics:     metricsInstance,
		},
	}
	if cfg.Providers.Kakao.ClientID != "" || cfg.Providers.Kakao.ClientSecret != "" {
		kauthCfg.Kakao = &kakao.Options{
			ClientID:     cfg.Providers.Kakao.ClientID,
			ClientSecret: cfg.Providers.Kakao.ClientSecret,
			CollectPhone: cfg.Providers.Kakao.CollectPhone,
		}
	}
	if cfg.Providers.Naver.ClientID != "" || cfg.Providers.Naver.ClientSecret != "" {
		kauthCfg.Naver = &naver.Options{
			ClientID:     cfg.Providers.Naver.ClientID,
			ClientSecret: cfg.Providers.Naver.ClientSecret,
		}
	}

	loginEngine, err := kauth.New(kauthCfg)
	if err != nil {
		log.Error("invalid provider configuration", "error", err)
		os.Exit(1)
	}

	// Health checks
	healthChecker := health.NewChecker(
		health.WithVersion(version()),
		health.WithTimeout(5*time.Second),
	)
	healthChecker.Register("database", health.PostgresCheck(dbPool.Ping))
	if cacheClient != nil {
		healthChecker.Register("redis", health.RedisCheck(cacheClient.Ping))
	}
	if eventsClient != nil {
		healthChecker.Register("nats", health.NATSCheck(eventsClient.IsConnected))
	}

	// Scheduled maintenance
	scheduler := cron.New()
	if memStates != nil {
		_, err = scheduler.AddFunc("@every 5m", func() {
			if purged := memStates.PurgeExpired(); purged > 0 {
				log.Debug("purged expired login states", "count", purged)
			}
		})
		if err != nil {
			log.Error("failed to schedule state purge", "error", err)
		}
	}
	_, err = scheduler.AddFunc(cfg.Audit.PurgeSchedule, func() {
		purged, err := repo.PurgeLoginRecords(context.Background(), cfg.Audit.Retention)
		if err != nil {
			log.Error("failed to purge login records", "error", err)
			return
		}
		if purged > 0 {
			log.Info("purged old login records", "count", purged)
		}
	})
	if err != nil {
		log.Error("failed to schedule audit purge", "error", err)
	}
	scheduler.Start()

	// HTTP server
	srv := server.New(cfg.HTTP, server.Options{
		Engine:  loginEngine,
		Repo:    repo,
		Tokens:  jwtManager,
		Events:  eventsClient,
		Metrics: metricsInstance,
		Checker: healthChecker,
		Logger:  log,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	scheduler.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}

	if cacheClient != nil {
		if err := cacheClient.Close(); err != nil {
			log.Error("redis client close error", "error", err)
		}
	}

	if eventsClient != nil {
		if err := eventsClient.Close(); err != nil {
			log.Error("nats client close error", "error", err)
		}
	}

	if tracingCleanup != nil {
		if err := tracingCleanup(shutdownCtx); err != nil {
			log.Error("tracing shutdown error", "error", err)
		}
	}

	log.Info("stopped")
}

func initDatabase(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.Database.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

func loadConfig() (*Config, error) {
	viper.SetConfigName("kauthd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/kauth")

	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("http.cookie_name", "kauth_session")
	viper.SetDefault("http.cookie_secure", false)
	viper.SetDefault("http.success_redirect", "/me")
	viper.SetDefault("http.rate_limit_rps", 5)
	viper.SetDefault("http.rate_limit_burst", 10)
	viper.SetDefault("http.read_timeout", "10s")
	viper.SetDefault("http.write_timeout", "30s")
	viper.SetDefault("providers.redirect_url", "http://localhost:8080/callback/%s")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "kauth")
	viper.SetDefault("database.password", "kauth_secret")
	viper.SetDefault("database.name", "kauth")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("jwt.private_key_path", "./keys/private.pem")
	viper.SetDefault("jwt.public_key_path", "./keys/public.pem")
	viper.SetDefault("jwt.token_ttl", "24h")
	viper.SetDefault("jwt.issuer", "kauthd")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.key_prefix", "kauth:")
	viper.SetDefault("nats.url", "")
	viper.SetDefault("nats.name", "kauthd")
	viper.SetDefault("nats.max_reconnects", 10)
	viper.SetDefault("nats.reconnect_wait", "2s")
	viper.SetDefault("audit.retention", "2160h") // 90 days
	viper.SetDefault("audit.purge_schedule", "0 3 * * *")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)
	viper.SetDefault("state_ttl", "10m")

	viper.SetEnvPrefix("KAUTH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func version() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}

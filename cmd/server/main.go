// Command server starts the Streamcast session orchestrator API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"streamcast/internal/api"
	"streamcast/internal/journal"
	"streamcast/internal/notify"
	"streamcast/internal/observability/logging"
	"streamcast/internal/observability/metrics"
	"streamcast/internal/orchestrator"
	"streamcast/internal/platform"
	"streamcast/internal/pushproc"
	"streamcast/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	addr := flag.String("addr", "", "HTTP listen address")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	apiTokenHashes := flag.String("api-token-hashes", "", "comma separated pbkdf2 hashes of accepted API tokens")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	sampleInterval := flag.Duration("sample-interval", 0, "interval between push process health samples")
	stalenessWindow := flag.Duration("staleness-window", 0, "window after which a silent push process counts as unhealthy")
	debounceSamples := flag.Int("debounce-samples", 0, "consecutive unhealthy samples before a session degrades")
	stabilizationWindow := flag.Duration("stabilization-window", 0, "healthy duration after which the retry budget resets")
	reconnectBaseDelay := flag.Duration("reconnect-base-delay", 0, "initial reconnect backoff delay")
	reconnectMaxDelay := flag.Duration("reconnect-max-delay", 0, "reconnect backoff ceiling")
	maxRetries := flag.Int("max-retries", 0, "reconnect attempts before a session fails")
	terminateGrace := flag.Duration("terminate-grace", 0, "grace period when terminating push processes")
	chatGreeting := flag.String("chat-greeting", "", "chat message sent when a session goes live")
	escalateChildFailures := flag.Bool("escalate-child-failures", false, "treat secondary destination failures like primary failures")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the event journal")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when establishing Postgres connections")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	webhookURL := flag.String("notify-webhook-url", "", "webhook endpoint receiving session events")
	webhookToken := flag.String("notify-webhook-token", "", "bearer token sent with webhook deliveries")
	webhookMinSeverity := flag.String("notify-webhook-min-severity", "", "minimum severity delivered to the webhook (info, warning, error)")
	smtpHost := flag.String("notify-smtp-host", "", "SMTP relay host for alert mail")
	smtpPort := flag.Int("notify-smtp-port", 0, "SMTP relay port")
	smtpUsername := flag.String("notify-smtp-username", "", "SMTP username")
	smtpPassword := flag.String("notify-smtp-password", "", "SMTP password")
	smtpFrom := flag.String("notify-smtp-from", "", "sender address for alert mail")
	smtpTo := flag.String("notify-smtp-to", "", "comma separated alert mail recipients")
	smtpSubject := flag.String("notify-smtp-subject", "", "subject prefix for alert mail")
	emailMinSeverity := flag.String("notify-email-min-severity", "", "minimum severity delivered by mail (info, warning, error)")
	redisAddr := flag.String("notify-redis-addr", "", "Redis address for the event stream")
	redisAddrs := flag.String("notify-redis-addrs", "", "comma separated Redis addresses for the event stream")
	redisUsername := flag.String("notify-redis-username", "", "Redis username for the event stream")
	redisPassword := flag.String("notify-redis-password", "", "Redis password for the event stream")
	redisStream := flag.String("notify-redis-stream", "", "Redis stream key for session events")
	redisMasterName := flag.String("notify-redis-sentinel-master", "", "Redis sentinel master name")
	redisPoolSize := flag.Int("notify-redis-pool-size", 0, "maximum Redis connections for the event stream")
	redisTLSCA := flag.String("notify-redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := flag.String("notify-redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := flag.String("notify-redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := flag.String("notify-redis-tls-server-name", "", "override Redis TLS server name")
	redisTLSSkipVerify := flag.Bool("notify-redis-tls-skip-verify", false, "skip Redis TLS verification")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMCAST_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMCAST_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	platformCfg, err := platform.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load platform configuration", "error", err)
		os.Exit(1)
	}
	if !platformCfg.Enabled() {
		logger.Error("STREAMCAST_PLATFORM_API is required")
		os.Exit(1)
	}
	platformCfg.Logger = logging.WithComponent(logger, "platform")
	platformClient, err := platform.NewHTTPClient(platformCfg)
	if err != nil {
		logger.Error("failed to initialise platform client", "error", err)
		os.Exit(1)
	}

	tunables := orchestrator.Tunables{
		SampleInterval:        resolveDuration(*sampleInterval, "STREAMCAST_SAMPLE_INTERVAL", 0),
		StalenessWindow:       resolveDuration(*stalenessWindow, "STREAMCAST_STALENESS_WINDOW", 0),
		DebounceSamples:       resolveInt(*debounceSamples, "STREAMCAST_DEBOUNCE_SAMPLES"),
		StabilizationWindow:   resolveDuration(*stabilizationWindow, "STREAMCAST_STABILIZATION_WINDOW", 0),
		ReconnectBaseDelay:    resolveDuration(*reconnectBaseDelay, "STREAMCAST_RECONNECT_BASE_DELAY", 0),
		ReconnectMaxDelay:     resolveDuration(*reconnectMaxDelay, "STREAMCAST_RECONNECT_MAX_DELAY", 0),
		MaxRetries:            resolveInt(*maxRetries, "STREAMCAST_MAX_RETRIES"),
		TerminateGrace:        resolveDuration(*terminateGrace, "STREAMCAST_TERMINATE_GRACE", 0),
		ChatGreeting:          firstNonEmpty(*chatGreeting, os.Getenv("STREAMCAST_CHAT_GREETING")),
		EscalateChildFailures: resolveBool(*escalateChildFailures, "STREAMCAST_ESCALATE_CHILD_FAILURES"),
	}
	if tunables.ChatGreeting == "" {
		tunables.ChatGreeting = orchestrator.DefaultTunables().ChatGreeting
	}

	launcher := pushproc.NewFFmpegLauncher(
		firstNonEmpty(*ffmpegBinary, os.Getenv("STREAMCAST_FFMPEG")),
		tunables.TerminateGrace,
		logging.WithComponent(logger, "pushproc"),
	)

	var eventJournal journal.Journal
	dsn := firstNonEmpty(*postgresDSN, os.Getenv("STREAMCAST_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	if dsn != "" {
		openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pg, err := journal.NewPostgres(openCtx, journal.PostgresConfig{
			DSN:             dsn,
			MaxConnections:  int32(resolveInt(*postgresMaxConns, "STREAMCAST_POSTGRES_MAX_CONNS")),
			MinConnections:  int32(resolveInt(*postgresMinConns, "STREAMCAST_POSTGRES_MIN_CONNS")),
			MaxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "STREAMCAST_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime: resolveDuration(*postgresMaxConnIdle, "STREAMCAST_POSTGRES_MAX_CONN_IDLE", 0),
			ConnectTimeout:  resolveDuration(*postgresConnectTimeout, "STREAMCAST_POSTGRES_CONNECT_TIMEOUT", 0),
			ApplicationName: firstNonEmpty(*postgresAppName, os.Getenv("STREAMCAST_POSTGRES_APP_NAME")),
		})
		cancel()
		if err != nil {
			logger.Error("failed to open event journal", "error", err)
			os.Exit(1)
		}
		eventJournal = pg
	} else {
		eventJournal = journal.NewMemory()
	}

	notifier := notify.New(notify.Config{
		Logger:  logger,
		Metrics: recorder,
	})
	notifier.AddSink(notify.NewLogSink(logger), orchestrator.SeverityInfo)
	notifier.AddSink(journal.NewSink(eventJournal), orchestrator.SeverityInfo)
	if url := firstNonEmpty(*webhookURL, os.Getenv("STREAMCAST_NOTIFY_WEBHOOK_URL")); url != "" {
		sink, err := notify.NewWebhookSink(url, firstNonEmpty(*webhookToken, os.Getenv("STREAMCAST_NOTIFY_WEBHOOK_TOKEN")), nil)
		if err != nil {
			logger.Error("failed to configure webhook sink", "error", err)
			os.Exit(1)
		}
		min, err := resolveSeverity(*webhookMinSeverity, "STREAMCAST_NOTIFY_WEBHOOK_MIN_SEVERITY", orchestrator.SeverityInfo)
		if err != nil {
			logger.Error("invalid webhook severity", "error", err)
			os.Exit(1)
		}
		notifier.AddSink(sink, min)
	}
	if host := firstNonEmpty(*smtpHost, os.Getenv("STREAMCAST_NOTIFY_SMTP_HOST")); host != "" {
		sink, err := notify.NewEmailSink(notify.EmailConfig{
			Host:     host,
			Port:     resolveInt(*smtpPort, "STREAMCAST_NOTIFY_SMTP_PORT"),
			Username: firstNonEmpty(*smtpUsername, os.Getenv("STREAMCAST_NOTIFY_SMTP_USERNAME")),
			Password: firstNonEmpty(*smtpPassword, os.Getenv("STREAMCAST_NOTIFY_SMTP_PASSWORD")),
			From:     firstNonEmpty(*smtpFrom, os.Getenv("STREAMCAST_NOTIFY_SMTP_FROM")),
			To:       splitAndTrim(firstNonEmpty(*smtpTo, os.Getenv("STREAMCAST_NOTIFY_SMTP_TO"))),
			Subject:  firstNonEmpty(*smtpSubject, os.Getenv("STREAMCAST_NOTIFY_SMTP_SUBJECT")),
		})
		if err != nil {
			logger.Error("failed to configure email sink", "error", err)
			os.Exit(1)
		}
		min, err := resolveSeverity(*emailMinSeverity, "STREAMCAST_NOTIFY_EMAIL_MIN_SEVERITY", orchestrator.SeverityError)
		if err != nil {
			logger.Error("invalid email severity", "error", err)
			os.Exit(1)
		}
		notifier.AddSink(sink, min)
	}
	var redisSink *notify.RedisSink
	redisAddrValue := firstNonEmpty(*redisAddr, os.Getenv("STREAMCAST_NOTIFY_REDIS_ADDR"))
	redisAddrsValue := splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("STREAMCAST_NOTIFY_REDIS_ADDRS")))
	if redisAddrValue != "" || len(redisAddrsValue) > 0 {
		redisSink, err = notify.NewRedisSink(notify.RedisSinkConfig{
			Addr:       redisAddrValue,
			Addrs:      redisAddrsValue,
			Username:   firstNonEmpty(*redisUsername, os.Getenv("STREAMCAST_NOTIFY_REDIS_USERNAME")),
			Password:   firstNonEmpty(*redisPassword, os.Getenv("STREAMCAST_NOTIFY_REDIS_PASSWORD")),
			Stream:     firstNonEmpty(*redisStream, os.Getenv("STREAMCAST_NOTIFY_REDIS_STREAM")),
			MasterName: firstNonEmpty(*redisMasterName, os.Getenv("STREAMCAST_NOTIFY_REDIS_SENTINEL_MASTER")),
			PoolSize:   resolveInt(*redisPoolSize, "STREAMCAST_NOTIFY_REDIS_POOL_SIZE"),
			TLS: notify.RedisTLSConfig{
				CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("STREAMCAST_NOTIFY_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("STREAMCAST_NOTIFY_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("STREAMCAST_NOTIFY_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("STREAMCAST_NOTIFY_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "STREAMCAST_NOTIFY_REDIS_TLS_SKIP_VERIFY"),
			},
		})
		if err != nil {
			logger.Error("failed to configure redis sink", "error", err)
			os.Exit(1)
		}
		notifier.AddSink(redisSink, orchestrator.SeverityInfo)
	}
	notifier.Start()

	manager := orchestrator.NewManager(orchestrator.Options{
		Platform:  platformClient,
		Launcher:  launcher,
		Publisher: notifier,
		Metrics:   recorder,
		Logger:    logger,
		Tunables:  tunables,
	})

	handler := api.NewHandler(manager, eventJournal, logger)
	auth := api.NewTokenAuth(splitAndTrim(firstNonEmpty(*apiTokenHashes, os.Getenv("STREAMCAST_API_TOKEN_HASHES"))))
	if !auth.Enabled() {
		logger.Warn("API authentication disabled, set STREAMCAST_API_TOKEN_HASHES to enable it")
	}

	srv := server.New(handler, server.Config{
		Addr: firstNonEmpty(*addr, os.Getenv("STREAMCAST_ADDR")),
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMCAST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("STREAMCAST_TLS_KEY")),
		},
		Logger:  logger,
		Metrics: recorder,
		Auth:    auth,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Run(ctx)
	}()

	runErr := awaitServer(ctx, stop, errs, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session shutdown incomplete", "error", err)
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		logger.Warn("notifier drain incomplete", "error", err)
	}
	if redisSink != nil {
		if err := redisSink.Close(); err != nil {
			logger.Warn("failed to close redis sink", "error", err)
		}
	}
	if err := eventJournal.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close event journal", "error", err)
	}
	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// awaitServer blocks until the server goroutine exits or a shutdown signal
// arrives, then returns the server's final error. The error channel is read
// exactly once, so a fatal listen/serve failure still reaches the exit path.
func awaitServer(ctx context.Context, stop context.CancelFunc, errs <-chan error, logger *slog.Logger) error {
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		stop()
		return <-errs
	case err := <-errs:
		stop()
		return err
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.Atoi(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}

func resolveSeverity(flagValue, envKey string, fallback orchestrator.Severity) (orchestrator.Severity, error) {
	raw := strings.ToLower(strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv(envKey))))
	switch raw {
	case "":
		return fallback, nil
	case "info":
		return orchestrator.SeverityInfo, nil
	case "warning", "warn":
		return orchestrator.SeverityWarning, nil
	case "error":
		return orchestrator.SeverityError, nil
	default:
		return fallback, fmt.Errorf("unknown severity %q", raw)
	}
}

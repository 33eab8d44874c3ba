// Command PlanPipe runs the chat-driven calendar and learning-plan assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/PlanPipe/internal/api"
	"github.com/BTreeMap/PlanPipe/internal/assistant"
	"github.com/BTreeMap/PlanPipe/internal/calendar"
	"github.com/BTreeMap/PlanPipe/internal/genai"
	"github.com/BTreeMap/PlanPipe/internal/lockfile"
	"github.com/BTreeMap/PlanPipe/internal/messaging"
	"github.com/BTreeMap/PlanPipe/internal/metrics"
	"github.com/BTreeMap/PlanPipe/internal/scheduler"
	"github.com/BTreeMap/PlanPipe/internal/store"
	"github.com/BTreeMap/PlanPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/PlanPipe/internal/util"
	"github.com/BTreeMap/PlanPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PlanPipe state data
	DefaultStateDir = "/var/lib/planpipe"
	// DefaultAppDBFileName is the default SQLite database filename
	DefaultAppDBFileName = "planpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultTimezone is the zone all dates are interpreted in
	DefaultTimezone = "Asia/Taipei"
	// DefaultDigestCron fires the daily digest at 08:00
	DefaultDigestCron = "0 8 * * *"
	// DefaultPollInterval is how often the outbox and job queue are polled
	DefaultPollInterval = 2 * time.Second

	ProviderWhatsApp = "whatsapp"
	ProviderTwilio   = "twilio"
)

// Config holds the merged environment and flag configuration.
type Config struct {
	StateDir         string
	AppDBDSN         string
	WhatsAppDBDSN    string
	OpenAIKey        string
	GeminiKey        string
	GenAIBackend     string
	GenAIModel       string
	APIAddr          string
	Timezone         string
	DigestCron       string
	Provider         string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	QROutput         string
	NumericCode      bool
	Debug            bool
}

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.Debug)

	config, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}
	if err := validateConfig(config); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}
	if err := ensureDirectoriesExist(config); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping PlanPipe", "provider", config.Provider, "backend", config.GenAIBackend, "timezone", config.Timezone, "state_dir", config.StateDir)
	if err := run(ctx, config); err != nil {
		slog.Error("PlanPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PlanPipe exited successfully")
}

// initializeLogger installs a text slog handler on stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:         util.GetEnvDefault("PLANPIPE_STATE_DIR", DefaultStateDir),
		AppDBDSN:         os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		GeminiKey:        os.Getenv("GEMINI_API_KEY"),
		GenAIBackend:     util.GetEnvDefault("GENAI_BACKEND", genai.BackendOpenAI),
		GenAIModel:       os.Getenv("GENAI_MODEL"),
		APIAddr:          util.GetEnvDefault("API_ADDR", api.DefaultAddr),
		Timezone:         util.GetEnvDefault("PLANPIPE_TIMEZONE", DefaultTimezone),
		DigestCron:       util.GetEnvDefault("DIGEST_CRON", DefaultDigestCron),
		Provider:         util.GetEnvDefault("MESSAGING_PROVIDER", ProviderWhatsApp),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		Debug:            util.ParseBoolEnv("PLANPIPE_DEBUG", false),
	}
	applyStateDirDefaults(&config)

	slog.Debug("environment variables loaded",
		"PLANPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"WHATSAPP_DB_DSN_SET", os.Getenv("WHATSAPP_DB_DSN") != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"GENAI_BACKEND", config.GenAIBackend,
		"API_ADDR", config.APIAddr,
		"PLANPIPE_TIMEZONE", config.Timezone,
		"DIGEST_CRON", config.DigestCron,
		"MESSAGING_PROVIDER", config.Provider)
	return config
}

// applyStateDirDefaults fills unset database DSNs with SQLite files in the state directory.
func applyStateDirDefaults(config *Config) {
	if config.AppDBDSN == "" {
		config.AppDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// parseCommandLineFlags overrides config with command line flags.
func parseCommandLineFlags(config Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("PlanPipe", flag.ContinueOnError)
	env := config
	stateDir := fs.String("state-dir", config.StateDir, "state directory for PlanPipe data (overrides $PLANPIPE_STATE_DIR)")
	appDSN := fs.String("db-dsn", "", "application database DSN (overrides $DATABASE_URL)")
	waDSN := fs.String("whatsapp-db-dsn", "", "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.GeminiKey, "gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)")
	fs.StringVar(&config.GenAIBackend, "genai-backend", config.GenAIBackend, "language model backend: openai or gemini (overrides $GENAI_BACKEND)")
	fs.StringVar(&config.GenAIModel, "genai-model", config.GenAIModel, "language model name (overrides $GENAI_MODEL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.Timezone, "timezone", config.Timezone, "IANA time zone for dates (overrides $PLANPIPE_TIMEZONE)")
	fs.StringVar(&config.DigestCron, "digest-cron", config.DigestCron, "cron expression for the daily digest (overrides $DIGEST_CRON)")
	fs.StringVar(&config.Provider, "provider", config.Provider, "messaging provider: whatsapp or twilio (overrides $MESSAGING_PROVIDER)")
	fs.StringVar(&config.QROutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", false, "use numeric login code instead of QR code")
	fs.BoolVar(&config.Debug, "debug", config.Debug, "enable debug logging and model exchange dumps (overrides $PLANPIPE_DEBUG)")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	// DSNs derived from the old state directory follow a new one.
	if *stateDir != env.StateDir {
		config.StateDir = *stateDir
		if os.Getenv("DATABASE_URL") == "" {
			config.AppDBDSN = ""
		}
		if os.Getenv("WHATSAPP_DB_DSN") == "" {
			config.WhatsAppDBDSN = ""
		}
		applyStateDirDefaults(&config)
	}
	if *appDSN != "" {
		config.AppDBDSN = *appDSN
	}
	if *waDSN != "" {
		config.WhatsAppDBDSN = *waDSN
	}
	if config.Debug != env.Debug {
		initializeLogger(config.Debug)
	}

	slog.Debug("flags parsed", "stateDir", config.StateDir, "provider", config.Provider, "backend", config.GenAIBackend, "apiAddr", config.APIAddr)
	return config, nil
}

// validateConfig rejects configurations that cannot start.
func validateConfig(config Config) error {
	switch config.Provider {
	case ProviderWhatsApp, ProviderTwilio:
	default:
		return fmt.Errorf("unknown messaging provider %q", config.Provider)
	}
	switch config.GenAIBackend {
	case genai.BackendOpenAI, genai.BackendGemini:
	default:
		return fmt.Errorf("unknown genai backend %q", config.GenAIBackend)
	}
	if _, err := time.LoadLocation(config.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}
	return scheduler.Validate(config.DigestCron)
}

// usesSQLite reports whether the application database is a local file.
func usesSQLite(config Config) bool {
	return store.DetectDSNType(config.AppDBDSN) == string(store.DialectSQLite)
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(config Config) error {
	if err := os.MkdirAll(config.StateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", config.StateDir, err)
	}
	if usesSQLite(config) {
		dir := filepath.Dir(config.AppDBDSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	return nil
}

// buildStoreOptions picks the store backend from the DSN.
func buildStoreOptions(config Config) []store.Option {
	if usesSQLite(config) {
		return []store.Option{store.WithSQLiteDSN(config.AppDBDSN)}
	}
	return []store.Option{store.WithPostgresDSN(config.AppDBDSN)}
}

// buildGenAIOptions constructs the oracle configuration.
func buildGenAIOptions(config Config, loc *time.Location, m *metrics.Metrics) []genai.Option {
	opts := []genai.Option{
		genai.WithBackend(config.GenAIBackend),
		genai.WithLocation(loc),
		genai.WithLatencyObserver(m.ObserveOracle),
	}
	if config.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(config.OpenAIKey))
	}
	if config.GeminiKey != "" {
		opts = append(opts, genai.WithGeminiAPIKey(config.GeminiKey))
	}
	if config.GenAIModel != "" {
		opts = append(opts, genai.WithModel(config.GenAIModel))
	}
	if config.Debug {
		opts = append(opts, genai.WithDebugDir(config.StateDir))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDBDSN)}
	if config.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioFrom))
	}
	return opts
}

// messagingStack is the transport chosen by configuration.
type messagingStack struct {
	service messaging.Service
	webhook http.Handler // non-nil for Twilio
	close   func()
}

func buildMessaging(ctx context.Context, config Config) (messagingStack, error) {
	switch config.Provider {
	case ProviderTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(config)...)
		if err != nil {
			return messagingStack{}, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return messagingStack{service: svc, webhook: http.HandlerFunc(svc.WebhookHandler), close: func() {}}, nil
	default:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config)...)
		if err != nil {
			return messagingStack{}, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messagingStack{service: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil
	}
}

// run wires every component and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, config Config) error {
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}

	if usesSQLite(config) {
		lock, err := lockfile.AcquireLock(config.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(buildStoreOptions(config)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	oracle, err := genai.NewClient(buildGenAIOptions(config, loc, m)...)
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}

	transport, err := buildMessaging(ctx, config)
	if err != nil {
		return err
	}
	defer transport.close()

	cal := calendar.New(st, loc)
	pusher := messaging.NewOutboxPusher(st)
	asst := assistant.New(oracle, cal, st, assistant.WithMetrics(m))
	dispatcher := assistant.NewDispatcher(asst, pusher, m)
	router := assistant.NewRouter(asst, dispatcher, st, st, m)
	digests := assistant.NewDigests(asst, st, pusher)

	outbox := store.NewOutboxSender(st, messaging.NewOutboxSendFunc(transport.service), DefaultPollInterval)
	jobs := store.NewJobRunner(st, DefaultPollInterval)
	jobs.RegisterHandler(assistant.DigestJobKind, digests.HandleJob)
	if err := outbox.RecoverStaleMessages(ctx); err != nil {
		slog.Warn("Failed to recover stale outbox messages", "error", err)
	}
	if err := jobs.RecoverStaleJobs(ctx); err != nil {
		slog.Warn("Failed to recover stale jobs", "error", err)
	}

	sched := scheduler.NewScheduler(scheduler.WithLocation(loc))
	defer sched.Stop()
	err = sched.AddContextJob(ctx, config.DigestCron, func(ctx context.Context) {
		if err := digests.EnqueueAll(ctx); err != nil {
			slog.Error("Daily digest enqueue failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	serverOpts := []api.Option{api.WithAddr(config.APIAddr), api.WithMetrics(reg)}
	if transport.webhook != nil {
		serverOpts = append(serverOpts, api.WithTwilioWebhook(transport.webhook))
	}
	server := api.NewServer(st, serverOpts...)

	transport.service.SetInboundHandler(router.Dispatch)
	if err := transport.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return outbox.Run(gctx) })
	g.Go(func() error { return jobs.Run(gctx) })
	slog.Info("PlanPipe is running", "api_addr", config.APIAddr, "provider", config.Provider)

	err = g.Wait()

	// Pushes from tasks still running here stay queued in the outbox.
	if stopErr := transport.service.Stop(); stopErr != nil {
		slog.Warn("Failed to stop messaging service", "error", stopErr)
	}
	dispatcher.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

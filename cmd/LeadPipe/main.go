package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultAppDBFileName is the default SQLite application database filename
	DefaultAppDBFileName = "leadpipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite whatsmeow session filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultTenant receives inbound messages that do not name a tenant
	DefaultTenant = "default"
	// DefaultElasticIndex is the catalog index queried when ELASTICSEARCH_INDEX is unset
	DefaultElasticIndex = "listings"
	// DefaultOutboxPollInterval is how often queued replies are claimed
	DefaultOutboxPollInterval = 2 * time.Second
)

// Transports accepted by -transport.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
	TransportNone     = "none"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One instance per state directory
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	slog.Info("Bootstrapping LeadPipe", "transport", *flags.transport, "tenant", *flags.tenant, "domain", *flags.domain)
	err = run(ctx, config, flags)
	stop()
	if rerr := lock.Release(); rerr != nil {
		slog.Warn("Failed to release state directory lock", "error", rerr)
	}
	if err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir        string
	AppDBDSN        string
	WhatsAppDBDSN   string
	APIAddr         string
	Transport       string
	Tenant          string
	Domain          string
	FlowDir         string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ElasticURLs     string
	ElasticIndex    string
	OpenAIKey       string
	OpenAIModel     string
	OpenAIBaseURL   string
	ConversationTTL time.Duration
	TurnTimeout     time.Duration
	OutboxPoll      time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWebhookURL string

	NumericCode bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	appDSN        *string
	whatsappDSN   *string
	transport     *string
	tenant        *string
	domain        *string
	flowDir       *string
	openaiKey     *string
	openaiModel   *string
	apiAddr       *string
	redisAddr     *string
	elasticURLs   *string
	conversations *time.Duration
}

// initializeLogger sets up structured logging. LOG_LEVEL selects the level, debug by default.
func initializeLogger() {
	level := slog.LevelDebug
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			level = slog.LevelDebug
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("LEADPIPE_STATE_DIR"),
		AppDBDSN:         os.Getenv("DATABASE_DSN"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:          os.Getenv("API_ADDR"),
		Transport:        strings.ToLower(strings.TrimSpace(os.Getenv("LEADPIPE_TRANSPORT"))),
		Tenant:           os.Getenv("DEFAULT_TENANT"),
		Domain:           os.Getenv("DEFAULT_DOMAIN"),
		FlowDir:          os.Getenv("FLOW_DIR"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          util.ParseIntEnv("REDIS_DB", 0),
		ElasticURLs:      os.Getenv("ELASTICSEARCH_URL"),
		ElasticIndex:     os.Getenv("ELASTICSEARCH_INDEX"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		ConversationTTL:  util.ParseDurationEnv("CONVERSATION_TTL", store.DefaultConversationTTL),
		TurnTimeout:      util.ParseDurationEnv("TURN_TIMEOUT", messaging.DefaultTurnTimeout),
		OutboxPoll:       util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", DefaultOutboxPollInterval),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		NumericCode:      util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// DATABASE_URL is accepted for the application database when DATABASE_DSN is not set
	if config.AppDBDSN == "" {
		config.AppDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.AppDBDSN == "" {
		config.AppDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No application DSN provided, defaulting to SQLite", "sqlite_path", config.AppDBDSN)
	}

	// The WhatsApp session store never shares the application database
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}

	if config.Transport == "" {
		config.Transport = TransportWhatsApp
		if config.TwilioAccountSID != "" {
			config.Transport = TransportTwilio
		}
	}
	if config.Tenant == "" {
		config.Tenant = DefaultTenant
	}
	if config.Domain == "" {
		config.Domain = string(models.DefaultDomain)
	}
	if config.ElasticIndex == "" {
		config.ElasticIndex = DefaultElasticIndex
	}

	slog.Debug("environment variables loaded",
		"LEADPIPE_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.AppDBDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"LEADPIPE_TRANSPORT", config.Transport,
		"DEFAULT_TENANT", config.Tenant,
		"DEFAULT_DOMAIN", config.Domain,
		"FLOW_DIR", config.FlowDir,
		"REDIS_ADDR", config.RedisAddr,
		"ELASTICSEARCH_URL_SET", config.ElasticURLs != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses args with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		qrOutput:      fs.String("qr-output", "", "path to write login QR code"),
		numeric:       fs.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)"),
		appDSN:        fs.String("db-dsn", config.AppDBDSN, "application database DSN, Postgres URL or SQLite path (overrides $DATABASE_DSN)"),
		whatsappDSN:   fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		transport:     fs.String("transport", config.Transport, "message transport: whatsapp, twilio or none (overrides $LEADPIPE_TRANSPORT)"),
		tenant:        fs.String("tenant", config.Tenant, "tenant of inbound messages (overrides $DEFAULT_TENANT)"),
		domain:        fs.String("domain", config.Domain, "business domain: real_estate or car_dealer (overrides $DEFAULT_DOMAIN)"),
		flowDir:       fs.String("flow-dir", config.FlowDir, "directory of <tenant>/<domain>.yaml flow files (overrides $FLOW_DIR)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key enabling intent extraction (overrides $OPENAI_API_KEY)"),
		openaiModel:   fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		redisAddr:     fs.String("redis-addr", config.RedisAddr, "Redis address for conversation state (overrides $REDIS_ADDR)"),
		elasticURLs:   fs.String("elasticsearch-url", config.ElasticURLs, "comma separated Elasticsearch URLs for the catalog (overrides $ELASTICSEARCH_URL)"),
		conversations: fs.Duration("conversation-ttl", config.ConversationTTL, "idle conversation lifetime (overrides $CONVERSATION_TTL)"),
	}

	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	switch *flags.transport {
	case TransportWhatsApp, TransportTwilio, TransportNone:
	default:
		return flags, fmt.Errorf("unknown transport %q", *flags.transport)
	}

	// Follow -state-dir when the database paths were derived from the environment default
	if *flags.stateDir != config.StateDir {
		if *flags.appDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			*flags.appDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		}
		if *flags.whatsappDSN == "file:"+filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)+"?_foreign_keys=on" {
			*flags.whatsappDSN = "file:" + filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		}
		slog.Debug("Updated database paths based on state directory", "state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"appDSN_set", *flags.appDSN != "",
		"transport", *flags.transport,
		"tenant", *flags.tenant,
		"domain", *flags.domain,
		"flowDir", *flags.flowDir,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr)

	return flags, nil
}

// ensureDirectoriesExist creates the directories of file-based databases
func ensureDirectoriesExist(flags Flags) error {
	dsns := []string{*flags.appDSN}
	if *flags.transport == TransportWhatsApp {
		dsns = append(dsns, *flags.whatsappDSN)
	}
	for _, dsn := range dsns {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.Index(path, "?"); i >= 0 {
			path = path[:i]
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
		slog.Debug("State directory ready", "state_dir", dir)
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFromNumber != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
	}
	return opts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	if store.DetectDSNType(*flags.appDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return []store.Option{store.WithPostgresDSN(*flags.appDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.appDSN)
	return []store.Option{store.WithSQLiteDSN(*flags.appDSN)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if config.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	return []api.Option{
		api.WithDefaultDomain(models.ParseDomain(*flags.domain)),
		api.WithTurnTimeout(config.TurnTimeout),
	}
}

// buildResponseHandlerOptions constructs the inbound message pipeline options
func buildResponseHandlerOptions(config Config, flags Flags) []messaging.ResponseHandlerOption {
	return []messaging.ResponseHandlerOption{
		messaging.WithDefaultTenant(*flags.tenant),
		messaging.WithDomain(models.ParseDomain(*flags.domain)),
		messaging.WithTurnTimeout(config.TurnTimeout),
	}
}

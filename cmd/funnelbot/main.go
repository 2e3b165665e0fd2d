package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glamlab/funnelbot/internal/api"
	"github.com/glamlab/funnelbot/internal/funnel"
	"github.com/glamlab/funnelbot/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for funnelbot state data
	DefaultStateDir = "/var/lib/funnelbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "funnelbot.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	apiOpts := buildAPIOptions(flags, config)

	slog.Info("Bootstrapping funnelbot")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr,
		"redis_set", *flags.redisAddr != "",
		"checkout_url_set", *flags.checkoutURL != "")
	if err := api.Run(apiOpts...); err != nil {
		slog.Error("funnelbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("funnelbot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	StateDir       string
	APIAddr        string
	CheckoutURL    string
	RedisAddr      string
	IntakeSchedule string
	FollowupDelay  time.Duration
	Templates      funnel.Templates
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	apiAddr        *string
	checkoutURL    *string
	redisAddr      *string
	intakeSchedule *string
	followupDelay  *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("FUNNELBOT_STATE_DIR"),
		APIAddr:        os.Getenv("API_ADDR"),
		CheckoutURL:    os.Getenv("CHECKOUT_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		IntakeSchedule: os.Getenv("INTAKE_SCHEDULE"),
		FollowupDelay:  util.ParseDurationEnv("FOLLOWUP_DELAY", funnel.DefaultFollowupDelay),
		Templates:      funnel.TemplatesFromEnv(),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FUNNELBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// No database URL means SQLite in the state directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"FUNNELBOT_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"CHECKOUT_URL_SET", config.CheckoutURL != "",
		"REDIS_ADDR_SET", config.RedisAddr != "",
		"INTAKE_SCHEDULE", config.IntakeSchedule,
		"FOLLOWUP_DELAY", config.FollowupDelay.String())

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for funnelbot data (overrides $FUNNELBOT_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN: Postgres URL or SQLite file path (overrides $DATABASE_URL)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		checkoutURL:    flag.String("checkout-url", config.CheckoutURL, "payment page URL for checkout redirects (overrides $CHECKOUT_URL)"),
		redisAddr:      flag.String("redis-addr", config.RedisAddr, "Redis address for inbound dedup (overrides $REDIS_ADDR)"),
		intakeSchedule: flag.String("intake-schedule", config.IntakeSchedule, "cron expression for the intake poller (overrides $INTAKE_SCHEDULE)"),
		followupDelay:  flag.Duration("followup-delay", config.FollowupDelay, "delay before the follow-up reminder (overrides $FOLLOWUP_DELAY)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"redisAddr_set", *flags.redisAddr != "",
		"intakeSchedule", *flags.intakeSchedule,
		"followupDelay", flags.followupDelay.String())

	// Moving the state directory moves the default SQLite file with it.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	return nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	apiOpts := []api.Option{
		api.WithStateDir(*flags.stateDir),
		api.WithDSN(*flags.dbDSN),
		api.WithTemplates(config.Templates),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.checkoutURL != "" {
		apiOpts = append(apiOpts, api.WithCheckoutURL(*flags.checkoutURL))
	}
	if *flags.redisAddr != "" {
		apiOpts = append(apiOpts, api.WithRedisAddr(*flags.redisAddr))
	}
	if *flags.intakeSchedule != "" {
		apiOpts = append(apiOpts, api.WithIntakeSchedule(*flags.intakeSchedule))
	}
	if *flags.followupDelay > 0 {
		apiOpts = append(apiOpts, api.WithFollowupDelay(*flags.followupDelay))
	}
	return apiOpts
}

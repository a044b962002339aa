package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the TOML document layout. Durations in
// the file are plain integers (ms or minutes, per field); they're
// converted to time.Duration once in applyFileConfig().
type fileConfig struct {
	BBS struct {
		Name string `toml:"name"`
		Sysop string `toml:"sysop"`
		Location string `toml:"location"`
		Description string `toml:"description"`
		MaxUsers int `toml:"max_users"`
		SessionTimeout int `toml:"session_timeout"` // minutes
		WelcomeMessage string `toml:"welcome_message"`
		SysopPasswordHash string `toml:"sysop_password_hash"`
		PublicCommandPrefix string `toml:"public_command_prefix"`
		AllowPublicLogin bool `toml:"allow_public_login"`
	} `toml:"bbs"`
	Meshtastic struct {
		Port string `toml:"port"`
		BaudRate int `toml:"baud_rate"`
		NodeID uint32 `toml:"node_id"`
		Channel int `toml:"channel"`
		MinSendGapMs int `toml:"min_send_gap_ms"`
		DMResendBackoffSeconds int `toml:"dm_resend_backoff_seconds"`
		PostDMBroadcastGapMs int `toml:"post_dm_broadcast_gap_ms"`
		DMToDMGapMs int `toml:"dm_to_dm_gap_ms"`
		HelpBroadcastDelayMs int `toml:"help_broadcast_delay_ms"`
		SchedulerMaxQueue int `toml:"scheduler_max_queue"`
		SchedulerAgingThresholdMs int `toml:"scheduler_aging_threshold_ms"`
		SchedulerStatsIntervalMs int `toml:"scheduler_stats_interval_ms"`
	} `toml:"meshtastic"`
	Storage struct {
		DataDir string `toml:"data_dir"`
		MaxMessageSize int `toml:"max_message_size"`
		ShowChunkMarkers bool `toml:"show_chunk_markers"`
	} `toml:"storage"`
	Logging struct {
		Level string `toml:"level"`
		File string `toml:"file"`
		SecurityFile string `toml:"security_file"`
	} `toml:"logging"`
	Weather struct {
		APIKey string `toml:"api_key"`
		DefaultLocation string `toml:"default_location"`
		LocationType string `toml:"location_type"`
		CountryCode string `toml:"country_code"`
		CacheTTLSeconds int `toml:"cache_ttl_seconds"`
		Enabled bool `toml:"enabled"`
	} `toml:"weather"`
}

// appConfig is the fully resolved, flag/env-overridden configuration: one
// flat struct the rest of main wires off of.
type appConfig struct {
	configPath string

	bbsName string
	sysop string
	location string
	description string
	maxUsers int
	sessionTimeout time.Duration
	welcomeMessage string
	sysopPasswordHash string
	publicCommandPrefix string
	allowPublicLogin bool

	port string
	baudRate int
	nodeID uint32
	channel int
	minSendGap time.Duration
	dmResendBackoff time.Duration
	postDMBroadcastGap time.Duration
	dmToDMGap time.Duration
	helpBroadcastDelay time.Duration
	schedulerMaxQueue int
	schedulerAgingThreshold time.Duration
	schedulerStatsInterval time.Duration

	dataDir string
	maxMessageSize int
	showChunkMarkers bool

	logLevel string
	logFormat string
	logFile string
	securityFile string

	metricsAddr string
	mdnsEnable bool
	mdnsName string

	weatherAPIKey string
	weatherDefaultLocation string
	weatherLocationType string
	weatherCountryCode string
	weatherCacheTTL time.Duration
	weatherEnabled bool
}

// defaultAppConfig returns the built-in defaults applied before the TOML
// file, env, and flags are layered on top.
func defaultAppConfig() *appConfig {
	return &appConfig{
		bbsName: "MeshBBS",
		maxUsers: 10,
		sessionTimeout: 20 * time.Minute,
		welcomeMessage: "Welcome to the BBS. REGISTER <user> <pass> or LOGIN <user> [pass] to begin.",
		publicCommandPrefix: "^",
		allowPublicLogin: true,

		port: "",
		baudRate: 115200,
		channel: 0,
		minSendGap: 500 * time.Millisecond,
		dmResendBackoff: 5 * time.Second,
		postDMBroadcastGap: 2 * time.Second,
		dmToDMGap: 300 * time.Millisecond,
		helpBroadcastDelay: 3 * time.Second,
		schedulerMaxQueue: 64,
		schedulerAgingThreshold: 10 * time.Second,
		schedulerStatsInterval: 30 * time.Second,

		dataDir: "./data",
		maxMessageSize: 230,
		showChunkMarkers: false,

		logLevel: "info",
		logFormat: "text",

		weatherLocationType: "city",
		weatherCacheTTL: 30 * time.Minute,
		weatherEnabled: false,
	}
}

// cliFlags holds the *string/*int/etc pointers flag.FlagSet populates;
// kept separate from appConfig so applyFlagOverrides can tell "flag left
// at its zero default" apart from "flag explicitly set to the zero
// value" via fs.Visit.
type cliFlags struct {
	configPath *string
	port *string
	baud *int
	dataDir *string
	logLevel *string
	logFormat *string
	metricsAddr *string
	mdnsEnable *bool
	mdnsName *string
	showVersion *bool
}

func newFlagSet(def *appConfig) (*flag.FlagSet, *cliFlags) {
	fs := flag.NewFlagSet("meshbbs", flag.ContinueOnError)
	cf := &cliFlags{
		configPath: fs.String("config", "", "Path to the TOML configuration file"),
		port: fs.String("port", def.port, "Serial device path for the radio (empty = no-op/test mode)"),
		baud: fs.Int("baud", def.baudRate, "Serial baud rate"),
		dataDir: fs.String("data-dir", def.dataDir, "Root directory for users/messages/locks"),
		logLevel: fs.String("log-level", def.logLevel, "Log level: debug|info|warn|error"),
		logFormat: fs.String("log-format", def.logFormat, "Log format: text|json"),
		metricsAddr: fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables"),
		mdnsEnable: fs.Bool("mdns-enable", false, "Enable mDNS advertisement of the metrics endpoint"),
		mdnsName: fs.String("mdns-name", "", "mDNS instance name (default meshbbs-<hostname>)"),
		showVersion: fs.Bool("version", false, "Print version and exit"),
	}
	return fs, cf
}

func applyFlagOverrides(cfg *appConfig, cf *cliFlags, fs *flag.FlagSet) {
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	if _, ok := set["port"]; ok {
		cfg.port = *cf.port
	}
	if _, ok := set["baud"]; ok {
		cfg.baudRate = *cf.baud
	}
	if _, ok := set["data-dir"]; ok {
		cfg.dataDir = *cf.dataDir
	}
	if _, ok := set["log-level"]; ok {
		cfg.logLevel = *cf.logLevel
	}
	if _, ok := set["log-format"]; ok {
		cfg.logFormat = *cf.logFormat
	}
	if _, ok := set["metrics-addr"]; ok {
		cfg.metricsAddr = *cf.metricsAddr
	}
	if _, ok := set["mdns-enable"]; ok {
		cfg.mdnsEnable = *cf.mdnsEnable
	}
	if _, ok := set["mdns-name"]; ok {
		cfg.mdnsName = *cf.mdnsName
	}
}

// loadConfig layers built-in defaults < TOML file < environment <
// explicit flags (flags always win).
func loadConfig(args []string) (*appConfig, bool, error) {
	cfg := defaultAppConfig()

	fs, cf := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *cf.showVersion {
		return cfg, true, nil
	}

	if *cf.configPath != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(*cf.configPath, &fc); err != nil {
			return nil, false, fmt.Errorf("load config file: %w", err)
		}
		applyFileConfig(cfg, &fc)
	}
	cfg.configPath = *cf.configPath

	applyEnvOverrides(cfg)
	applyFlagOverrides(cfg, cf, fs)

	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func applyFileConfig(cfg *appConfig, fc *fileConfig) {
	if fc.BBS.Name != "" {
		cfg.bbsName = fc.BBS.Name
	}
	cfg.sysop = fc.BBS.Sysop
	cfg.location = fc.BBS.Location
	cfg.description = fc.BBS.Description
	if fc.BBS.MaxUsers != 0 {
		cfg.maxUsers = fc.BBS.MaxUsers
	}
	if fc.BBS.SessionTimeout != 0 {
		cfg.sessionTimeout = time.Duration(fc.BBS.SessionTimeout) * time.Minute
	}
	if fc.BBS.WelcomeMessage != "" {
		cfg.welcomeMessage = fc.BBS.WelcomeMessage
	}
	cfg.sysopPasswordHash = fc.BBS.SysopPasswordHash
	if fc.BBS.PublicCommandPrefix != "" {
		cfg.publicCommandPrefix = fc.BBS.PublicCommandPrefix
	}
	cfg.allowPublicLogin = fc.BBS.AllowPublicLogin

	if fc.Meshtastic.Port != "" {
		cfg.port = fc.Meshtastic.Port
	}
	if fc.Meshtastic.BaudRate != 0 {
		cfg.baudRate = fc.Meshtastic.BaudRate
	}
	cfg.nodeID = fc.Meshtastic.NodeID
	cfg.channel = fc.Meshtastic.Channel
	if fc.Meshtastic.MinSendGapMs != 0 {
		cfg.minSendGap = time.Duration(fc.Meshtastic.MinSendGapMs) * time.Millisecond
	}
	if fc.Meshtastic.DMResendBackoffSeconds != 0 {
		cfg.dmResendBackoff = time.Duration(fc.Meshtastic.DMResendBackoffSeconds) * time.Second
	}
	if fc.Meshtastic.PostDMBroadcastGapMs != 0 {
		cfg.postDMBroadcastGap = time.Duration(fc.Meshtastic.PostDMBroadcastGapMs) * time.Millisecond
	}
	if fc.Meshtastic.DMToDMGapMs != 0 {
		cfg.dmToDMGap = time.Duration(fc.Meshtastic.DMToDMGapMs) * time.Millisecond
	}
	if fc.Meshtastic.HelpBroadcastDelayMs != 0 {
		cfg.helpBroadcastDelay = time.Duration(fc.Meshtastic.HelpBroadcastDelayMs) * time.Millisecond
	}
	if fc.Meshtastic.SchedulerMaxQueue != 0 {
		cfg.schedulerMaxQueue = fc.Meshtastic.SchedulerMaxQueue
	}
	if fc.Meshtastic.SchedulerAgingThresholdMs != 0 {
		cfg.schedulerAgingThreshold = time.Duration(fc.Meshtastic.SchedulerAgingThresholdMs) * time.Millisecond
	}
	if fc.Meshtastic.SchedulerStatsIntervalMs != 0 {
		cfg.schedulerStatsInterval = time.Duration(fc.Meshtastic.SchedulerStatsIntervalMs) * time.Millisecond
	}

	if fc.Storage.DataDir != "" {
		cfg.dataDir = fc.Storage.DataDir
	}
	if fc.Storage.MaxMessageSize != 0 {
		cfg.maxMessageSize = fc.Storage.MaxMessageSize
	}
	cfg.showChunkMarkers = fc.Storage.ShowChunkMarkers

	if fc.Logging.Level != "" {
		cfg.logLevel = fc.Logging.Level
	}
	cfg.logFile = fc.Logging.File
	cfg.securityFile = fc.Logging.SecurityFile

	if fc.Weather.APIKey != "" {
		cfg.weatherAPIKey = fc.Weather.APIKey
	}
	if fc.Weather.DefaultLocation != "" {
		cfg.weatherDefaultLocation = fc.Weather.DefaultLocation
	}
	if fc.Weather.LocationType != "" {
		cfg.weatherLocationType = fc.Weather.LocationType
	}
	if fc.Weather.CountryCode != "" {
		cfg.weatherCountryCode = fc.Weather.CountryCode
	}
	if fc.Weather.CacheTTLSeconds != 0 {
		cfg.weatherCacheTTL = time.Duration(fc.Weather.CacheTTLSeconds) * time.Second
	}
	cfg.weatherEnabled = fc.Weather.Enabled
}

// applyEnvOverrides maps MESHBBS_* environment variables onto cfg. Called
// after the TOML file and before flags, so flags retain the highest
// precedence.
func applyEnvOverrides(cfg *appConfig) {
	get := func(k string) (string, bool) {
		v, ok := os.LookupEnv(k)
		return strings.TrimSpace(v), ok
	}
	if v, ok := get("MESHBBS_PORT"); ok && v != "" {
		cfg.port = v
	}
	if v, ok := get("MESHBBS_BAUD"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.baudRate = n
		}
	}
	if v, ok := get("MESHBBS_DATA_DIR"); ok && v != "" {
		cfg.dataDir = v
	}
	if v, ok := get("MESHBBS_LOG_LEVEL"); ok && v != "" {
		cfg.logLevel = v
	}
	if v, ok := get("MESHBBS_LOG_FORMAT"); ok && v != "" {
		cfg.logFormat = v
	}
	if v, ok := get("MESHBBS_METRICS_ADDR"); ok {
		cfg.metricsAddr = v
	}
	if v, ok := get("MESHBBS_MDNS_ENABLE"); ok && v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			cfg.mdnsEnable = true
		case "0", "false", "no", "off":
			cfg.mdnsEnable = false
		}
	}
	if v, ok := get("MESHBBS_MDNS_NAME"); ok && v != "" {
		cfg.mdnsName = v
	}
	// Weather API key is a credential: let it come from the environment so
	// it doesn't need to live in the TOML file on disk.
	if v, ok := get("MESHBBS_WEATHER_API_KEY"); ok && v != "" {
		cfg.weatherAPIKey = v
	}
}

// validate checks the fully-resolved config for obviously broken values.
// It never touches the filesystem or serial port.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.logLevel)
	}
	if c.baudRate <= 0 {
		return fmt.Errorf("baud_rate must be > 0 (got %d)", c.baudRate)
	}
	if c.maxUsers < 0 {
		return fmt.Errorf("max_users must be >= 0 (got %d)", c.maxUsers)
	}
	if c.maxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be > 0 (got %d)", c.maxMessageSize)
	}
	if len(c.publicCommandPrefix) == 0 {
		return errors.New("public_command_prefix must have at least one character")
	}
	if c.schedulerMaxQueue <= 0 {
		return fmt.Errorf("scheduler_max_queue must be > 0 (got %d)", c.schedulerMaxQueue)
	}
	return nil
}

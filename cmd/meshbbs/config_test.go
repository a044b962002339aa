package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *appConfig {
	c := defaultAppConfig()
	c.port = "/dev/ttyUSB0"
	return c
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badLogFormat", func(c *appConfig) { c.logFormat = "xml" }},
		{"badLogLevel", func(c *appConfig) { c.logLevel = "verbose" }},
		{"badBaud", func(c *appConfig) { c.baudRate = 0 }},
		{"negativeMaxUsers", func(c *appConfig) { c.maxUsers = -1 }},
		{"zeroMaxMessageSize", func(c *appConfig) { c.maxMessageSize = 0 }},
		{"emptyPrefix", func(c *appConfig) { c.publicCommandPrefix = "" }},
		{"zeroSchedulerQueue", func(c *appConfig) { c.schedulerMaxQueue = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mod(c)
			if err := c.validate(); err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
		})
	}
}

func TestApplyFileConfig_OverridesDefaults(t *testing.T) {
	cfg := defaultAppConfig()
	fc := &fileConfig{}
	fc.BBS.Name = "Ridgeline BBS"
	fc.BBS.MaxUsers = 25
	fc.BBS.SessionTimeout = 15
	fc.Meshtastic.Port = "/dev/ttyUSB1"
	fc.Meshtastic.BaudRate = 57600
	fc.Storage.DataDir = "/srv/meshbbs"
	fc.Weather.APIKey = "filekey"
	fc.Weather.Enabled = true
	fc.Weather.CacheTTLSeconds = 900

	applyFileConfig(cfg, fc)

	if cfg.bbsName != "Ridgeline BBS" {
		t.Fatalf("expected bbsName override, got %q", cfg.bbsName)
	}
	if cfg.maxUsers != 25 {
		t.Fatalf("expected maxUsers 25, got %d", cfg.maxUsers)
	}
	if cfg.sessionTimeout != 15*time.Minute {
		t.Fatalf("expected sessionTimeout 15m, got %v", cfg.sessionTimeout)
	}
	if cfg.port != "/dev/ttyUSB1" || cfg.baudRate != 57600 {
		t.Fatalf("expected meshtastic overrides, got port=%q baud=%d", cfg.port, cfg.baudRate)
	}
	if cfg.dataDir != "/srv/meshbbs" {
		t.Fatalf("expected dataDir override, got %q", cfg.dataDir)
	}
	if !cfg.weatherEnabled || cfg.weatherAPIKey != "filekey" {
		t.Fatalf("expected weather overrides, got enabled=%v key=%q", cfg.weatherEnabled, cfg.weatherAPIKey)
	}
	if cfg.weatherCacheTTL != 900*time.Second {
		t.Fatalf("expected weatherCacheTTL 900s, got %v", cfg.weatherCacheTTL)
	}
}

func TestApplyFileConfig_ZeroFieldsDoNotClobberDefaults(t *testing.T) {
	cfg := defaultAppConfig()
	wantMaxUsers := cfg.maxUsers
	wantBaud := cfg.baudRate

	applyFileConfig(cfg, &fileConfig{})

	if cfg.maxUsers != wantMaxUsers {
		t.Fatalf("expected maxUsers unchanged at %d, got %d", wantMaxUsers, cfg.maxUsers)
	}
	if cfg.baudRate != wantBaud {
		t.Fatalf("expected baudRate unchanged at %d, got %d", wantBaud, cfg.baudRate)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultAppConfig()
	os.Setenv("MESHBBS_PORT", "/dev/ttyACM0")
	os.Setenv("MESHBBS_BAUD", "9600")
	os.Setenv("MESHBBS_LOG_LEVEL", "debug")
	os.Setenv("MESHBBS_MDNS_ENABLE", "true")
	os.Setenv("MESHBBS_WEATHER_API_KEY", "envkey")
	t.Cleanup(func() {
		os.Unsetenv("MESHBBS_PORT")
		os.Unsetenv("MESHBBS_BAUD")
		os.Unsetenv("MESHBBS_LOG_LEVEL")
		os.Unsetenv("MESHBBS_MDNS_ENABLE")
		os.Unsetenv("MESHBBS_WEATHER_API_KEY")
	})

	applyEnvOverrides(cfg)

	if cfg.port != "/dev/ttyACM0" {
		t.Fatalf("expected port override, got %q", cfg.port)
	}
	if cfg.baudRate != 9600 {
		t.Fatalf("expected baud override, got %d", cfg.baudRate)
	}
	if cfg.logLevel != "debug" {
		t.Fatalf("expected logLevel override, got %q", cfg.logLevel)
	}
	if !cfg.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if cfg.weatherAPIKey != "envkey" {
		t.Fatalf("expected weatherAPIKey override, got %q", cfg.weatherAPIKey)
	}
}

func TestApplyEnvOverrides_BadBaudIgnored(t *testing.T) {
	cfg := defaultAppConfig()
	want := cfg.baudRate
	os.Setenv("MESHBBS_BAUD", "notanumber")
	t.Cleanup(func() { os.Unsetenv("MESHBBS_BAUD") })

	applyEnvOverrides(cfg)

	if cfg.baudRate != want {
		t.Fatalf("expected baudRate unchanged at %d, got %d", want, cfg.baudRate)
	}
}

func TestLoadConfig_FlagsOverrideFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshbbs.toml")
	doc := `
[bbs]
name = "File BBS"
max_users = 5

[meshtastic]
port = "/dev/ttyFILE"
baud_rate = 38400
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	os.Setenv("MESHBBS_PORT", "/dev/ttyENV")
	t.Cleanup(func() { os.Unsetenv("MESHBBS_PORT") })

	cfg, showVersion, err := loadConfig([]string{
		"-config", path,
		"-port", "/dev/ttyFLAG",
	})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if showVersion {
		t.Fatalf("unexpected showVersion")
	}
	if cfg.port != "/dev/ttyFLAG" {
		t.Fatalf("expected flag to win, got %q", cfg.port)
	}
	if cfg.bbsName != "File BBS" {
		t.Fatalf("expected file bbsName to survive, got %q", cfg.bbsName)
	}
	if cfg.maxUsers != 5 {
		t.Fatalf("expected file maxUsers to survive, got %d", cfg.maxUsers)
	}
	if cfg.baudRate != 38400 {
		t.Fatalf("expected file baudRate to survive (no flag given), got %d", cfg.baudRate)
	}
}

func TestApplyFileConfig_WelcomeAndSysopHash(t *testing.T) {
	cfg := defaultAppConfig()
	fc := &fileConfig{}
	fc.BBS.WelcomeMessage = "Custom welcome."
	fc.BBS.SysopPasswordHash = "$2a$10$examplehash"

	applyFileConfig(cfg, fc)

	if cfg.welcomeMessage != "Custom welcome." {
		t.Fatalf("expected welcomeMessage override, got %q", cfg.welcomeMessage)
	}
	if cfg.sysopPasswordHash != "$2a$10$examplehash" {
		t.Fatalf("expected sysopPasswordHash set, got %q", cfg.sysopPasswordHash)
	}
}

func TestBBSConfig_ThreadsWelcomeMessage(t *testing.T) {
	cfg := defaultAppConfig()
	cfg.welcomeMessage = "Hi there."
	got := bbsConfig(cfg, []string{"general"})
	if got.WelcomeMessage != "Hi there." {
		t.Fatalf("expected WelcomeMessage threaded through, got %q", got.WelcomeMessage)
	}
}

func TestLoadConfig_ShowVersionSkipsValidation(t *testing.T) {
	_, showVersion, err := loadConfig([]string{"-version"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !showVersion {
		t.Fatalf("expected showVersion true")
	}
}

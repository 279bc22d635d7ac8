package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setenv sets an env var for the duration of a test, restoring the original on cleanup.
func setenv(t *testing.T, key, value string) {
	t.Helper()
	original, had := os.LookupEnv(key)
	os.Setenv(key, value) //nolint:errcheck
	t.Cleanup(func() {
		if had {
			os.Setenv(key, original) //nolint:errcheck
		} else {
			os.Unsetenv(key) //nolint:errcheck
		}
	})
}

var envKeys = []string{
	"PORT", "HOST", "QWEN_API_BASE_URL", "QWEN_BX_V", "QWEN_SOURCE", "QWEN_TIMEZONE",
	"LOG_LEVEL", "LOG_FILE", "CONFIG_FILE", "QWEN_TOKENS", "QWEN_VERBOSE", "QWEN_DEBUG",
}

// clearEnv unsets every variable Load reads and moves into an empty directory
// so no stray config.yaml is picked up.
func clearEnv(t *testing.T) string {
	t.Helper()
	for _, key := range envKeys {
		setenv(t, key, "")
		os.Unsetenv(key) //nolint:errcheck
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadDefaults checks the built-in values when nothing is configured.
func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 8220 {
		t.Errorf("addr: got %s", cfg.Addr())
	}
	if cfg.BaseURL != "https://chat.qwen.ai/api/v2" {
		t.Errorf("BaseURL: got %q", cfg.BaseURL)
	}
	if cfg.BXVersion != "2.5.31" || cfg.Source != "web" || cfg.Timezone != "Asia/Shanghai" {
		t.Errorf("upstream defaults: %+v", cfg)
	}
	if cfg.MaxRetries != 3 || cfg.RequestTimeout != 30*time.Second || cfg.StreamIdleTimeout != 5*time.Minute {
		t.Errorf("timing defaults: %d %s %s", cfg.MaxRetries, cfg.RequestTimeout, cfg.StreamIdleTimeout)
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile: got %q, want empty", cfg.ConfigFile)
	}
	if len(cfg.TokenGroups) != 0 {
		t.Errorf("TokenGroups: got %d, want 0", len(cfg.TokenGroups))
	}
}

// TestLoadFileThenEnv verifies the YAML file overrides defaults and env
// overrides the file.
func TestLoadFileThenEnv(t *testing.T) {
	dir := clearEnv(t)
	path := writeFile(t, dir, "qwen.yaml", `
qwen_api_base_url: https://example.test/api/v2
port: 9000
qwen_source: h5
log_level: DEBUG
max_retries: 5
request_timeout: 10s
stream_idle_timeout: 1m
thinking_models: [qwen-max]
qwen_token_groups:
  - token: tok-one
    bx_ua: ua-one
    bx_umidtoken: umid-one
  - token: tok-two
    headers:
      X-Extra: yes
`)
	setenv(t, "PORT", "9100")
	setenv(t, "QWEN_SOURCE", "web")
	setenv(t, "QWEN_TOKENS", "ignored-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile: got %q", cfg.ConfigFile)
	}
	if cfg.BaseURL != "https://example.test/api/v2" {
		t.Errorf("BaseURL: got %q", cfg.BaseURL)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port: got %d, want env value 9100", cfg.Port)
	}
	if cfg.Source != "web" {
		t.Errorf("Source: got %q, want env value", cfg.Source)
	}
	if cfg.LogLevel != "DEBUG" || cfg.MaxRetries != 5 {
		t.Errorf("file values lost: %q %d", cfg.LogLevel, cfg.MaxRetries)
	}
	if cfg.RequestTimeout != 10*time.Second || cfg.StreamIdleTimeout != time.Minute {
		t.Errorf("durations: %s %s", cfg.RequestTimeout, cfg.StreamIdleTimeout)
	}
	if len(cfg.ThinkingModels) != 1 || cfg.ThinkingModels[0] != "qwen-max" {
		t.Errorf("ThinkingModels: %v", cfg.ThinkingModels)
	}
	if len(cfg.TokenGroups) != 2 || cfg.TokenGroups[0].Token != "tok-one" {
		t.Fatalf("file token groups should win over QWEN_TOKENS: %+v", cfg.TokenGroups)
	}

	creds, err := cfg.Credentials()
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	h := creds[0].Headers()
	if h["bx-ua"] != "ua-one" || h["bx-umidtoken"] != "umid-one" {
		t.Errorf("aux headers: %v", h)
	}
	if creds[1].Headers()["x-extra"] != "yes" {
		t.Errorf("explicit headers: %v", creds[1].Headers())
	}
}

// TestLoadConfigFileEnv checks CONFIG_FILE is honoured when no path is given.
func TestLoadConfigFileEnv(t *testing.T) {
	dir := clearEnv(t)
	path := writeFile(t, dir, "custom.yaml", "port: 8300\n")
	setenv(t, "CONFIG_FILE", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8300 || cfg.ConfigFile != path {
		t.Errorf("got port %d file %q", cfg.Port, cfg.ConfigFile)
	}
}

// TestLoadDefaultFileInWorkingDir checks config.yaml is picked up implicitly.
func TestLoadDefaultFileInWorkingDir(t *testing.T) {
	dir := clearEnv(t)
	writeFile(t, dir, DefaultFile, "host: 127.0.0.1\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.ConfigFile != DefaultFile {
		t.Errorf("got host %q file %q", cfg.Host, cfg.ConfigFile)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string) string
	}{
		{"missing explicit file", func(t *testing.T, dir string) string {
			return filepath.Join(dir, "nope.yaml")
		}},
		{"bad yaml", func(t *testing.T, dir string) string {
			return writeFile(t, dir, "bad.yaml", "port: [1, 2\n")
		}},
		{"bad port env", func(t *testing.T, dir string) string {
			setenv(t, "PORT", "eighty")
			return ""
		}},
		{"bad token json", func(t *testing.T, dir string) string {
			setenv(t, "QWEN_TOKENS", `[{"token":`)
			return ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := clearEnv(t)
			if _, err := Load(tt.setup(t, dir)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// TestEnvBoolVariants checks all accepted truthy values for boolean env vars.
func TestEnvBoolVariants(t *testing.T) {
	truthy := []string{"1", "true", "yes", "on", "TRUE", "YES", "ON"}
	for _, val := range truthy {
		t.Run(val, func(t *testing.T) {
			clearEnv(t)
			setenv(t, "QWEN_DEBUG", val)
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			if !cfg.Debug {
				t.Errorf("expected Debug=true for env value %q", val)
			}
		})
	}

	falsy := []string{"0", "false", "no", "off", ""}
	for _, val := range falsy {
		t.Run("false_"+val, func(t *testing.T) {
			clearEnv(t)
			setenv(t, "QWEN_DEBUG", val)
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Debug {
				t.Errorf("expected Debug=false for env value %q", val)
			}
		})
	}
}

func TestParseTokenList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []TokenGroup
	}{
		{"single", "tok-a", []TokenGroup{{Token: "tok-a"}}},
		{"pipes", "tok-a|ua-a|umid-a, tok-b|ua-b", []TokenGroup{
			{Token: "tok-a", BXUA: "ua-a", BXUmidToken: "umid-a"},
			{Token: "tok-b", BXUA: "ua-b"},
		}},
		{"skips empty", "tok-a,,", []TokenGroup{{Token: "tok-a"}}},
		{"json", `[{"token":"tok-j","bx_ua":"ua-j"}]`, []TokenGroup{{Token: "tok-j", BXUA: "ua-j"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTokenList(tt.in)
			if err != nil {
				t.Fatalf("ParseTokenList: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i].Token != tt.want[i].Token || got[i].BXUA != tt.want[i].BXUA || got[i].BXUmidToken != tt.want[i].BXUmidToken {
					t.Errorf("group %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCredentialsRejectsEmptyToken(t *testing.T) {
	cfg := &ServerConfig{TokenGroups: []TokenGroup{{Token: "ok"}, {Token: "  "}}}
	if _, err := cfg.Credentials(); err == nil || !strings.Contains(err.Error(), "token group 1") {
		t.Fatalf("expected error naming group 1, got %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, name := range []string{"DEBUG", "info", "WARNING", "warn", "ERROR", "CRITICAL"} {
		if _, err := ParseLogLevel(name); err != nil {
			t.Errorf("ParseLogLevel(%q): %v", name, err)
		}
	}
	if _, err := ParseLogLevel("LOUD"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// jwtWithExp is a JWT-shaped token whose payload is {"exp":<exp>}.
func jwtWithExp(exp string) string {
	// base64url of {"exp":<exp>} is computed by hand for the two values used.
	switch exp {
	case "past":
		return "eyJhbGciOiJIUzI1NiJ9.eyJleHAiOjF9.sig" // {"exp":1}
	default:
		return "eyJhbGciOiJIUzI1NiJ9.eyJleHAiOjQxMDI0NDQ4MDB9.sig" // {"exp":4102444800}
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := func() *ServerConfig {
		c := Defaults()
		c.TokenGroups = []TokenGroup{{Token: jwtWithExp("future")}}
		return c
	}

	t.Run("valid", func(t *testing.T) {
		warnings, err := valid().Validate(now)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if len(warnings) != 0 {
			t.Errorf("unexpected warnings: %v", warnings)
		}
	})

	errorCases := []struct {
		name   string
		mutate func(c *ServerConfig)
	}{
		{"port zero", func(c *ServerConfig) { c.Port = 0 }},
		{"port too big", func(c *ServerConfig) { c.Port = 70000 }},
		{"relative url", func(c *ServerConfig) { c.BaseURL = "/api/v2" }},
		{"ftp url", func(c *ServerConfig) { c.BaseURL = "ftp://chat.qwen.ai" }},
		{"log level", func(c *ServerConfig) { c.LogLevel = "LOUD" }},
		{"negative retries", func(c *ServerConfig) { c.MaxRetries = -1 }},
		{"empty token", func(c *ServerConfig) { c.TokenGroups = append(c.TokenGroups, TokenGroup{}) }},
		{"duplicate token", func(c *ServerConfig) { c.TokenGroups = append(c.TokenGroups, c.TokenGroups[0]) }},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if _, err := c.Validate(now); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	warnCases := []struct {
		name   string
		mutate func(c *ServerConfig)
		want   string
	}{
		{"privileged port", func(c *ServerConfig) { c.Port = 80 }, "privileged"},
		{"expired token", func(c *ServerConfig) { c.TokenGroups[0].Token = jwtWithExp("past") }, "expired"},
		{"opaque token", func(c *ServerConfig) { c.TokenGroups[0].Token = "not-a-jwt-token" }, "invalid JWT"},
		{"no tokens", func(c *ServerConfig) { c.TokenGroups = nil }, "no token groups"},
	}
	for _, tt := range warnCases {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			warnings, err := c.Validate(now)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if len(warnings) != 1 || !strings.Contains(warnings[0], tt.want) {
				t.Fatalf("warnings: got %v, want one containing %q", warnings, tt.want)
			}
		})
	}
}

func TestSummaryHasNoTokens(t *testing.T) {
	c := Defaults()
	c.TokenGroups = []TokenGroup{{Token: "super-secret-token-value"}}
	s := c.Summary()
	if s.TokenGroups != 1 {
		t.Errorf("TokenGroups: got %d", s.TokenGroups)
	}
	if strings.Contains(strings.Join([]string{s.BaseURL, s.Host, s.Source}, " "), "secret") {
		t.Error("summary leaked a token")
	}
}

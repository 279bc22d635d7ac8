package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/n0madic/go-qwenmock/internal/auth"
)

// fileConfig mirrors config.yaml. Pointer fields distinguish an absent key
// from a zero value.
type fileConfig struct {
	TokenGroups       []TokenGroup   `yaml:"qwen_token_groups"`
	BaseURL           *string        `yaml:"qwen_api_base_url"`
	Host              *string        `yaml:"host"`
	Port              *int           `yaml:"port"`
	BXVersion         *string        `yaml:"qwen_bx_v"`
	Source            *string        `yaml:"qwen_source"`
	Timezone          *string        `yaml:"qwen_timezone"`
	LogLevel          *string        `yaml:"log_level"`
	LogFile           *string        `yaml:"log_file"`
	ChatTitle         *string        `yaml:"chat_title"`
	ThinkingModels    []string       `yaml:"thinking_models"`
	MaxRetries        *int           `yaml:"max_retries"`
	RequestTimeout    *time.Duration `yaml:"request_timeout"`
	StreamIdleTimeout *time.Duration `yaml:"stream_idle_timeout"`
	Verbose           *bool          `yaml:"verbose"`
	Debug             *bool          `yaml:"debug"`
}

// Load builds the configuration from defaults, the YAML file and the
// environment, in that order. path may be empty: CONFIG_FILE is used, then
// config.yaml if it exists. An explicitly named file must exist.
func Load(path string) (*ServerConfig, error) {
	cfg := Defaults()

	explicit := true
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path == "" {
		path, explicit = DefaultFile, false
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	} else {
		cfg.ConfigFile = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServerConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&c.BaseURL, fc.BaseURL)
	setString(&c.Host, fc.Host)
	setString(&c.BXVersion, fc.BXVersion)
	setString(&c.Source, fc.Source)
	setString(&c.Timezone, fc.Timezone)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFile, fc.LogFile)
	setString(&c.ChatTitle, fc.ChatTitle)
	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.MaxRetries != nil {
		c.MaxRetries = *fc.MaxRetries
	}
	if fc.RequestTimeout != nil {
		c.RequestTimeout = *fc.RequestTimeout
	}
	if fc.StreamIdleTimeout != nil {
		c.StreamIdleTimeout = *fc.StreamIdleTimeout
	}
	if fc.Verbose != nil {
		c.Verbose = *fc.Verbose
	}
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}
	if fc.ThinkingModels != nil {
		c.ThinkingModels = fc.ThinkingModels
	}
	if len(fc.TokenGroups) > 0 {
		c.TokenGroups = fc.TokenGroups
	}
	return nil
}

func (c *ServerConfig) applyEnv() error {
	c.Host = envOrDefault("HOST", c.Host)
	c.BaseURL = envOrDefault("QWEN_API_BASE_URL", c.BaseURL)
	c.BXVersion = envOrDefault("QWEN_BX_V", c.BXVersion)
	c.Source = envOrDefault("QWEN_SOURCE", c.Source)
	c.Timezone = envOrDefault("QWEN_TIMEZONE", c.Timezone)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFile = envOrDefault("LOG_FILE", c.LogFile)
	if envBool("QWEN_VERBOSE") {
		c.Verbose = true
	}
	if envBool("QWEN_DEBUG") {
		c.Debug = true
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: invalid port %q", v)
		}
		c.Port = port
	}

	// Token groups from the file take precedence.
	if len(c.TokenGroups) == 0 {
		if v := strings.TrimSpace(os.Getenv("QWEN_TOKENS")); v != "" {
			groups, err := ParseTokenList(v)
			if err != nil {
				return fmt.Errorf("QWEN_TOKENS: %w", err)
			}
			c.TokenGroups = groups
		}
	}
	return nil
}

// ParseTokenList parses QWEN_TOKENS: a JSON array of token groups, or a comma
// separated list of token|bx_ua|bx_umidtoken entries.
func ParseTokenList(s string) ([]TokenGroup, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var groups []TokenGroup
		if err := json.Unmarshal([]byte(s), &groups); err != nil {
			return nil, fmt.Errorf("invalid JSON token list: %w", err)
		}
		return groups, nil
	}

	var groups []TokenGroup
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 3)
		g := TokenGroup{Token: strings.TrimSpace(parts[0])}
		if len(parts) > 1 {
			g.BXUA = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			g.BXUmidToken = strings.TrimSpace(parts[2])
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Credential converts g into a credential. bx_ua and bx_umidtoken become the
// bx-ua and bx-umidtoken headers; explicit headers win over them.
func (g TokenGroup) Credential() (auth.Credential, error) {
	headers := make(map[string]string, len(g.Headers)+2)
	if g.BXUA != "" {
		headers["bx-ua"] = g.BXUA
	}
	if g.BXUmidToken != "" {
		headers["bx-umidtoken"] = g.BXUmidToken
	}
	for k, v := range g.Headers {
		headers[strings.ToLower(k)] = v
	}
	return auth.NewCredential(strings.TrimSpace(g.Token), headers)
}

// Credentials converts every token group, in order.
func (c *ServerConfig) Credentials() ([]auth.Credential, error) {
	creds := make([]auth.Credential, 0, len(c.TokenGroups))
	for i, g := range c.TokenGroups {
		cred, err := g.Credential()
		if err != nil {
			return nil, fmt.Errorf("token group %d: %w", i, err)
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

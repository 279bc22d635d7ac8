package config

import (
	"os"
	"strings"
	"time"

	"github.com/n0madic/go-qwenmock/internal/models"
	"github.com/n0madic/go-qwenmock/internal/upstream"
)

const (
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 8220
	DefaultBXVersion = "2.5.31"
	DefaultTimezone  = "Asia/Shanghai"
	DefaultLogLevel  = "INFO"
	DefaultFile      = "config.yaml"
)

// TokenGroup is one configured upstream credential as written in the config
// file or QWEN_TOKENS.
type TokenGroup struct {
	Token       string            `yaml:"token" json:"token"`
	BXUA        string            `yaml:"bx_ua,omitempty" json:"bx_ua,omitempty"`
	BXUmidToken string            `yaml:"bx_umidtoken,omitempty" json:"bx_umidtoken,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// ServerConfig holds all server configuration.
type ServerConfig struct {
	Host    string
	Port    int
	Verbose bool
	Debug   bool

	BaseURL   string
	BXVersion string
	Source    string
	Timezone  string

	LogLevel   string
	LogFile    string
	ConfigFile string

	ChatTitle      string
	ThinkingModels []string

	MaxRetries        int
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration

	TokenGroups []TokenGroup
}

// Defaults returns the built-in configuration.
func Defaults() *ServerConfig {
	return &ServerConfig{
		Host:              DefaultHost,
		Port:              DefaultPort,
		BaseURL:           upstream.DefaultBaseURL,
		BXVersion:         DefaultBXVersion,
		Source:            upstream.DefaultSource,
		Timezone:          DefaultTimezone,
		LogLevel:          DefaultLogLevel,
		ChatTitle:         upstream.DefaultChatTitle,
		ThinkingModels:    models.DefaultThinkingModels(),
		MaxRetries:        upstream.DefaultMaxRetries,
		RequestTimeout:    upstream.DefaultTimeout,
		StreamIdleTimeout: upstream.DefaultStreamIdleTimeout,
	}
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return joinHostPort(c.Host, c.Port)
}

// UpstreamOptions returns the client options shared by every pooled client.
func (c *ServerConfig) UpstreamOptions() upstream.Options {
	return upstream.Options{
		BaseURL:           c.BaseURL,
		Source:            c.Source,
		BXVersion:         c.BXVersion,
		Timezone:          c.Timezone,
		Timeout:           c.RequestTimeout,
		StreamIdleTimeout: c.StreamIdleTimeout,
		MaxRetries:        c.MaxRetries,
		Verbose:           c.Verbose,
		Debug:             c.Debug,
	}
}

// Summary is the non-sensitive view of the configuration served by /config.
type Summary struct {
	BaseURL     string `json:"qwen_api_base_url"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Source      string `json:"qwen_source"`
	BXVersion   string `json:"qwen_bx_v"`
	Timezone    string `json:"qwen_timezone"`
	LogLevel    string `json:"log_level"`
	MaxRetries  int    `json:"max_retries"`
	TokenGroups int    `json:"token_groups"`
}

// Summary returns c without any credential material.
func (c *ServerConfig) Summary() Summary {
	return Summary{
		BaseURL:     c.BaseURL,
		Host:        c.Host,
		Port:        c.Port,
		Source:      c.Source,
		BXVersion:   c.BXVersion,
		Timezone:    c.Timezone,
		LogLevel:    c.LogLevel,
		MaxRetries:  c.MaxRetries,
		TokenGroups: len(c.TokenGroups),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/n0madic/go-qwenmock/internal/auth"
)

var logLevels = map[string]slog.Level{
	"DEBUG":    slog.LevelDebug,
	"INFO":     slog.LevelInfo,
	"WARNING":  slog.LevelWarn,
	"WARN":     slog.LevelWarn,
	"ERROR":    slog.LevelError,
	"CRITICAL": slog.LevelError,
}

// ParseLogLevel maps a configured level name to a slog level.
func ParseLogLevel(name string) (slog.Level, error) {
	lvl, ok := logLevels[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

// Validate checks c. Problems that prevent serving are joined into the
// returned error; suspicious but usable settings are returned as warnings.
func (c *ServerConfig) Validate(now time.Time) (warnings []string, err error) {
	var errs []error

	switch {
	case c.Port < 1 || c.Port > 65535:
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	case c.Port < 1024:
		warnings = append(warnings, fmt.Sprintf("port %d is privileged", c.Port))
	}

	if u, perr := url.Parse(c.BaseURL); perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("qwen_api_base_url %q must be an absolute http(s) URL", c.BaseURL))
	}

	if _, lerr := ParseLogLevel(c.LogLevel); lerr != nil {
		errs = append(errs, lerr)
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries %d must not be negative", c.MaxRetries))
	}

	if len(c.TokenGroups) == 0 {
		warnings = append(warnings, "no token groups configured; chat requests will fail with 503")
	}
	seen := make(map[string]int, len(c.TokenGroups))
	for i, g := range c.TokenGroups {
		tok := strings.TrimSpace(g.Token)
		if tok == "" {
			errs = append(errs, fmt.Errorf("token group %d: %w", i, auth.ErrEmptyToken))
			continue
		}
		if j, dup := seen[tok]; dup {
			errs = append(errs, fmt.Errorf("token group %d duplicates token group %d", i, j))
			continue
		}
		seen[tok] = i
		if jerr := auth.CheckJWT(tok, now); jerr != nil {
			warnings = append(warnings, fmt.Sprintf("token group %d (%s): %v", i, auth.RedactToken(tok), jerr))
		}
	}

	return warnings, errors.Join(errs...)
}

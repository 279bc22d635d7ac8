package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/n0madic/go-qwenmock/internal/auth"
	"github.com/n0madic/go-qwenmock/internal/config"
	"github.com/n0madic/go-qwenmock/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: go-qwenmock <command> [flags]")
		fmt.Fprintln(os.Stderr, "Commands: serve, info, check")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe())
	case "info":
		os.Exit(cmdInfo())
	case "check":
		os.Exit(cmdCheck())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Commands: serve, info, check")
		os.Exit(1)
	}
}

func cmdServe() int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config.yaml (default: $CONFIG_FILE or ./config.yaml)")
	host := fs.String("host", "", "Bind host")
	port := fs.Int("port", 0, "Listen port")
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	debug := fs.Bool("debug", false, "Dump inbound and upstream requests to stderr")
	logLevel := fs.String("log-level", "", "Log level (DEBUG|INFO|WARNING|ERROR|CRITICAL)")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	// Flags win over file and environment, but only when given.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "verbose":
			cfg.Verbose = *verbose
		case "debug":
			cfg.Debug = *debug
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	closeLog, err := setupLogging(cfg)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		return 1
	}
	defer closeLog()

	warnings, err := cfg.Validate(time.Now())
	for _, w := range warnings {
		slog.Warn("config.warning", "detail", w)
	}
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	srv, err := server.New(cfg)
	if err != nil {
		slog.Error("failed to build server", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("QwenMock starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"upstream", cfg.BaseURL,
		"credentials", len(cfg.TokenGroups),
		"config_file", cfg.ConfigFile,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

// setupLogging installs the default slog handler: text on stderr, teed to
// the configured log file.
func setupLogging(cfg *config.ServerConfig) (func(), error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		if dir := filepath.Dir(cfg.LogFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return closeFn, nil
}

type credentialInfo struct {
	Token     string   `json:"token"`
	ID        string   `json:"fingerprint"`
	Account   string   `json:"account,omitempty"`
	Headers   []string `json:"headers,omitempty"`
	ExpiresAt string   `json:"expires_at,omitempty"`
	Expired   bool     `json:"expired"`
	Problem   string   `json:"problem,omitempty"`
}

type infoOutput struct {
	Config      config.Summary   `json:"config"`
	ConfigFile  string           `json:"config_file,omitempty"`
	Credentials []credentialInfo `json:"credentials"`
}

func cmdInfo() int {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config.yaml")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}
	out := infoOutput{Config: cfg.Summary(), ConfigFile: cfg.ConfigFile, Credentials: []credentialInfo{}}
	now := time.Now()
	for _, g := range cfg.TokenGroups {
		out.Credentials = append(out.Credentials, describeCredential(g, now))
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Println("⚙️  Configuration")
	if cfg.ConfigFile != "" {
		fmt.Printf("  • File: %s\n", cfg.ConfigFile)
	}
	fmt.Printf("  • Listen: %s\n", cfg.Addr())
	fmt.Printf("  • Upstream: %s (source %s, bx-v %s, %s)\n", cfg.BaseURL, cfg.Source, cfg.BXVersion, cfg.Timezone)
	fmt.Printf("  • Retries: %d, timeout %s, stream idle %s\n", cfg.MaxRetries, cfg.RequestTimeout, cfg.StreamIdleTimeout)
	fmt.Println()

	fmt.Println("\U0001F511 Credentials")
	if len(out.Credentials) == 0 {
		fmt.Println("  • None configured")
		fmt.Println("  • Add qwen_token_groups to config.yaml or set QWEN_TOKENS")
		return 0
	}
	for i, c := range out.Credentials {
		fmt.Printf("  %d. %s (%s)\n", i+1, c.Token, c.ID)
		if c.Account != "" {
			fmt.Printf("     Account: %s\n", c.Account)
		}
		if len(c.Headers) > 0 {
			fmt.Printf("     Headers: %s\n", strings.Join(c.Headers, ", "))
		}
		switch {
		case c.Problem != "":
			fmt.Printf("     ⚠️  %s\n", c.Problem)
		case c.Expired:
			fmt.Printf("     ❌ Expired: %s\n", c.ExpiresAt)
		default:
			fmt.Printf("     ⏳ Expires: %s\n", c.ExpiresAt)
		}
	}
	return 0
}

func describeCredential(g config.TokenGroup, now time.Time) credentialInfo {
	info := credentialInfo{Token: auth.RedactToken(g.Token)}
	cred, err := g.Credential()
	if err != nil {
		info.Problem = err.Error()
		return info
	}
	info.ID = cred.Fingerprint()
	info.Headers = cred.HeaderNames()

	claims, err := auth.ParseJWTClaims(cred.Token())
	if err != nil {
		info.Problem = "not a JWT; the upstream will decide whether it is valid"
		return info
	}
	info.Account = claimString(claims, "id")
	exp, err := auth.JWTExpiry(cred.Token())
	if err != nil {
		info.Problem = err.Error()
		return info
	}
	info.ExpiresAt = formatLocalDateTime(exp)
	info.Expired = !exp.After(now)
	return info
}

func cmdCheck() int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config.yaml")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}
	warnings, err := cfg.Validate(time.Now())
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", w)
	}
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(os.Stderr, "❌ %s\n", line)
		}
		return 1
	}
	fmt.Printf("✅ Configuration OK (%d credential(s))\n", len(cfg.TokenGroups))
	return 0
}

func formatLocalDateTime(t time.Time) string {
	local := t.Local()
	tz := local.Format("MST")
	return fmt.Sprintf("%s %s", local.Format("Jan 02, 2006 15:04"), tz)
}

func claimString(claims map[string]any, key string) string {
	if claims == nil {
		return ""
	}
	v, _ := claims[key].(string)
	return v
}

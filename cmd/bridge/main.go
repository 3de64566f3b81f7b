// Command bridge runs the codex-chat-bridge protocol translation proxy.
//
// Configuration is loaded from a TOML file (default
// $HOME/.config/codex-chat-bridge/conf.toml, materialized with commented
// defaults on first run) and overridden by command-line flags. The bearer
// token forwarded upstream is read from the environment variable named by
// api_key_env (default OPENAI_API_KEY).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heungtae/codex-chat-bridge/internal/config"
	"github.com/heungtae/codex-chat-bridge/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     = flag.String("config", "", "path to TOML config file")
		host           = flag.String("host", "", "listen host")
		port           = flag.Int("port", -1, "listen port (0 for OS-assigned)")
		upstreamURL    = flag.String("upstream-url", "", "upstream HTTPS endpoint")
		upstreamWire   = flag.String("upstream-wire", "", "upstream wire schema: chat or responses")
		apiKeyEnv      = flag.String("api-key-env", "", "environment variable carrying the bearer token")
		serverInfo     = flag.String("server-info", "", "path to write a {port,pid} JSON descriptor")
		httpShutdown   = flag.Bool("http-shutdown", false, "enable the /shutdown endpoint")
		verboseLogging = flag.Bool("verbose", false, "log upstream request bodies (bearer token redacted)")
		metricsEnabled = flag.Bool("metrics", false, "expose Prometheus metrics at /metrics")
		dropToolTypes  = flag.String("drop-tool-types", "", "comma-separated tool types to filter out of every request")
	)
	flag.Parse()

	overrides := config.Overrides{}
	if *host != "" {
		overrides.Host = host
	}
	if *port >= 0 {
		overrides.Port = port
	}
	if *upstreamURL != "" {
		overrides.UpstreamURL = upstreamURL
	}
	if *upstreamWire != "" {
		overrides.UpstreamWire = upstreamWire
	}
	if *apiKeyEnv != "" {
		overrides.APIKeyEnv = apiKeyEnv
	}
	if *serverInfo != "" {
		overrides.ServerInfo = serverInfo
	}
	if flagSeen("http-shutdown") {
		overrides.HTTPShutdown = httpShutdown
	}
	if flagSeen("verbose") {
		overrides.VerboseLogging = verboseLogging
	}
	if flagSeen("metrics") {
		overrides.MetricsEnabled = metricsEnabled
	}
	if *dropToolTypes != "" {
		overrides.DropToolTypes = strings.Split(*dropToolTypes, ",")
	}

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	apiKey, err := config.ResolveAPIKey(cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return fmt.Errorf("binding %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port

	if cfg.ServerInfo != "" {
		if err := writeServerInfo(cfg.ServerInfo, actualPort); err != nil {
			return fmt.Errorf("writing server info: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Handler: buildHandler(cfg, apiKey, stop)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("bridge starting",
			"host", cfg.Host,
			"port", actualPort,
			"upstream_wire", cfg.UpstreamWire,
			"upstream_url", cfg.UpstreamURL,
		)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildHandler(cfg *config.Config, apiKey string, stop context.CancelFunc) http.Handler {
	dispatcher := server.New(cfg, apiKey, &http.Client{}, func() { stop() })

	mux := http.NewServeMux()
	mux.Handle("/", dispatcher.Handler())
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		slog.Info("metrics endpoint enabled", "path", "/metrics")
	}
	return mux
}

// writeServerInfo writes the one-line JSON descriptor {"port":...,"pid":...}
// so a process supervisor that asked for an OS-assigned port can discover it.
func writeServerInfo(path string, port int) error {
	data, err := json.Marshal(map[string]int{"port": port, "pid": os.Getpid()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// flagSeen reports whether a flag was explicitly passed on the command
// line, so an unset bool flag doesn't clobber a file-configured true value
// with its zero default.
func flagSeen(name string) bool {
	seen := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			seen = true
		}
	})
	return seen
}

// Command tokendemo logs in to an auth server and keeps the session alive,
// calling a protected endpoint on an interval. Without -server it starts an
// in-process auth server issuing short-lived tokens.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	tl "github.com/panyam/tokenlife"
	"github.com/panyam/tokenlife/client"
	"github.com/panyam/tokenlife/internal/authtest"
	"github.com/panyam/tokenlife/metrics"
	"github.com/panyam/tokenlife/stores/fs"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file")
		serverURL   = flag.String("server", "", "auth server URL; empty starts an in-process server")
		username    = flag.String("user", "demo", "username")
		password    = flag.String("password", "demo", "password")
		storePath   = flag.String("store", "", "session file path (overrides config)")
		keyHex      = flag.String("key", "", "hex encoded 32 byte key to encrypt the session file")
		metricsAddr = flag.String("metrics-addr", "", "address to serve /metrics on, e.g. :9090")
		interval    = flag.Duration("interval", 10*time.Second, "interval between protected requests")
		accessTTL   = flag.Duration("access-ttl", 6*time.Minute, "access token lifetime of the in-process server")
		refreshTTL  = flag.Duration("refresh-ttl", 12*time.Minute, "refresh token lifetime of the in-process server")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg := tl.MustLoad(*configPath)
	if *storePath != "" {
		cfg.StorePath = *storePath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *serverURL != "":
		cfg.ServerURL = *serverURL
	case cfg.ServerURL == "":
		url, err := startAuthServer(ctx, *username, *password, *accessTTL, *refreshTTL)
		if err != nil {
			log.Error("failed to start auth server", "error", err)
			os.Exit(1)
		}
		cfg.ServerURL = url
		log.Info("in-process auth server started", "url", url, "access_ttl", *accessTTL, "refresh_ttl", *refreshTTL)
	}

	var storeOpts []fs.Option
	storeOpts = append(storeOpts, fs.WithLogger(log))
	if *keyHex != "" {
		key, err := hex.DecodeString(*keyHex)
		if err != nil {
			log.Error("invalid -key", "error", err)
			os.Exit(1)
		}
		storeOpts = append(storeOpts, fs.WithEncryptionKey(key))
	}
	store, err := fs.NewFSTokenStore(cfg.StorePath, cfg.Namespace, storeOpts...)
	if err != nil {
		log.Error("failed to open session store", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		log.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		go serveMetrics(ctx, log, *metricsAddr, reg)
	}

	c := client.NewFromConfig(*cfg, store, tl.WithLogger(log), tl.WithMetrics(recorder))
	defer c.Close()

	loggedOut := make(chan struct{}, 1)
	c.Manager().Subscribe(func(ev tl.Event) {
		log.Info("session event", "kind", ev.Kind, "generation", ev.Generation,
			"time_left", ev.TimeLeft, "reason", ev.Reason)
		if ev.Kind == tl.EventLoggedOut {
			select {
			case loggedOut <- struct{}{}:
			default:
			}
		}
	})

	if c.IsLoggedIn() {
		log.Info("resuming persisted session", "path", store.Path())
	} else {
		user, err := c.Login(ctx, *username, *password)
		if err != nil {
			log.Error("login failed", "error", err)
			os.Exit(1)
		}
		log.Info("logged in", "user", user.Username, "path", store.Path())
	}

	// adopt renewals and logouts made by other processes sharing the file
	if err := store.Watch(ctx, func() {
		if err := c.Manager().Reload(); err != nil {
			log.Warn("failed to reload session", "error", err)
		}
	}); err != nil {
		log.Warn("session file watch disabled", "error", err)
	}

	monitor := tl.NewMonitor(c.Manager(), *cfg)
	if err := monitor.Start(ctx); err != nil {
		log.Error("failed to start monitor", "error", err)
		os.Exit(1)
	}
	defer monitor.Stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		callProtected(ctx, log, c, cfg.ServerURL)
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-loggedOut:
			log.Info("session ended, exiting")
			return
		case <-ticker.C:
		}
	}
}

func callProtected(ctx context.Context, log *slog.Logger, c *client.Client, serverURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/api/me", nil)
	if err != nil {
		log.Error("failed to build request", "error", err)
		return
	}
	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn("request failed", "error", err)
		}
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	info := c.Manager().TokenInfo()
	log.Info("protected request", "status", resp.StatusCode, "body", string(body),
		"access_left", info.AccessTimeLeft, "refresh_left", info.RefreshTimeLeft)
}

func startAuthServer(ctx context.Context, username, password string, accessTTL, refreshTTL time.Duration) (string, error) {
	auth := authtest.NewServer(map[string]string{username: password})
	auth.AccessTTL = accessTTL
	auth.RefreshTTL = refreshTTL

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: auth, ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return "http://" + ln.Addr().String(), nil
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server failed", "error", err)
	}
}

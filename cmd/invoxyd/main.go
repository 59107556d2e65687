// Command invoxyd serves an invoxy registry over HTTP. It wires session
// configuration, a task-definition directory, and a pair of built-in demo
// handlers; real deployments register their own handlers in place of those.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/invoxy/invoxy"
	"github.com/invoxy/invoxy/transport/httpapi"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// config is the invoxyd YAML configuration file.
type config struct {
	Listen        string   `yaml:"listen"`
	CallStyle     string   `yaml:"callStyle"`
	MinConfidence float64  `yaml:"minConfidence"`
	Elevation     struct {
		Allowlist []string `yaml:"allowlist"`
		Approved  bool     `yaml:"approved"`
	} `yaml:"elevation"`
	GlobalTimeoutMS   int `yaml:"globalTimeoutMs"`
	ShutdownTimeoutMS int `yaml:"shutdownTimeoutMs"`
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		defsDir    string
		listen     string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:           "invoxyd",
		Short:         "Serve an invoxy tool-invocation registry over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, defsDir, listen, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVarP(&defsDir, "definitions", "d", "", "directory of task definition files")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func run(ctx context.Context, configPath, defsDir, listen string, debug bool) error {
	logger, err := newLogger(debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}

	session := invoxy.SessionConfig{
		CallStyle:          invoxy.CallStyle(cfg.CallStyle),
		ElevationAllowlist: cfg.Elevation.Allowlist,
		ElevationApproved:  cfg.Elevation.Approved,
		MinConfidence:      cfg.MinConfidence,
		GlobalTimeout:      time.Duration(cfg.GlobalTimeoutMS) * time.Millisecond,
		ShutdownTimeout:    time.Duration(cfg.ShutdownTimeoutMS) * time.Millisecond,
	}
	if session.ShutdownTimeout <= 0 {
		session.ShutdownTimeout = 10 * time.Second
	}

	opts := []invoxy.Option{invoxy.WithLogger(logger)}
	if defsDir != "" {
		defs, err := invoxy.LoadDefinitions(defsDir, logger)
		if err != nil {
			return err
		}
		logger.Info("loaded task definitions", zap.Int("count", len(defs)))
		opts = append(opts, invoxy.WithDefinitions(defs))
	}
	promReg := prometheus.NewRegistry()
	opts = append(opts, invoxy.WithMetrics(invoxy.NewMetrics(promReg)))

	reg := invoxy.New(session, opts...)
	reg.Use(invoxy.WithLogging(logger))
	if err := registerDemoHandlers(reg); err != nil {
		return err
	}

	api := httpapi.New(reg, httpapi.WithLogger(logger))
	mux := chi.NewRouter()
	mux.Mount("/", api.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), session.ShutdownTimeout)
	defer cancel()
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Warn("registry shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig(path string) (config, error) {
	var cfg config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// registerDemoHandlers installs two trivial handlers so a fresh deployment has
// something to call: echo returns its arguments, sleep waits and honors
// cancellation (useful for exercising timeout definitions).
func registerDemoHandlers(reg *invoxy.Registry) error {
	type echoArgs struct {
		Message string `json:"message"`
	}
	type echoOut struct {
		Message string `json:"message"`
	}
	type sleepArgs struct {
		DurationMS int `json:"durationMs"`
	}
	type sleepOut struct {
		SleptMS int `json:"sleptMs"`
	}
	echo, err := invoxy.Op(invoxy.NewHandler("demo"), "echo", "Echo the message back",
		func(_ context.Context, a echoArgs) (echoOut, error) {
			return echoOut{Message: a.Message}, nil
		},
	).Build()
	if err != nil {
		return err
	}
	slow, err := invoxy.Op(invoxy.NewHandler("demo_sleep"), "sleep", "Wait for durationMs milliseconds",
		func(ctx context.Context, a sleepArgs) (sleepOut, error) {
			d := time.Duration(a.DurationMS) * time.Millisecond
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return sleepOut{SleptMS: a.DurationMS}, nil
			case <-ctx.Done():
				return sleepOut{}, ctx.Err()
			}
		},
	).Build()
	if err != nil {
		return err
	}
	reg.Register(echo)
	reg.Register(slow)
	return nil
}

// btcp2pd runs a standalone Bitcoin P2P network core: it loads settings,
// starts the orchestrator's inbound/seed/outbound/manual sessions, serves
// Prometheus metrics, and dials the configured manual peers, until it
// receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nyxnet/btcp2p/config"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/metrics"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/p2p"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "btcp2pd",
		Short: "Bitcoin P2P network core daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to a settings YAML file (defaults applied when omitted)")
	flags.String("metrics-addr", ":9333", "address the metrics HTTP server listens on; empty disables it")
	flags.String("log-format", "term", "log output format: term|json")
	flags.String("log-file", "", "rotate logs to this file instead of stderr; empty logs to stderr")
	flags.Int("log-verbosity", int(xlog.LvlInfo), "log verbosity, crit=0 .. trace=5")

	bindFlags(v, flags, "config", "metrics-addr", "log-format", "log-file", "log-verbosity")
	v.SetEnvPrefix("BTCP2PD")
	v.AutomaticEnv()

	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
}

func run(ctx context.Context, v *viper.Viper) error {
	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("btcp2pd: %w", err)
		}
		cfg = loaded
	}

	log := newLogger(v)
	log.Info("starting", "inbound_port", cfg.InboundPort, "outbound_connections", cfg.OutboundConnections)

	reg := metrics.New()
	if addr := v.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: reg.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	orch, err := p2p.New(cfg, log, reg)
	if err != nil {
		return fmt.Errorf("btcp2pd: %w", err)
	}
	defer orch.Close()

	started := make(chan errs.Code, 1)
	orch.Start(func(code errs.Code) { started <- code })
	select {
	case code := <-started:
		if code != errs.Success {
			return fmt.Errorf("btcp2pd: start failed: %s", code)
		}
	case <-time.After(30 * time.Second):
		return fmt.Errorf("btcp2pd: start timed out")
	}

	ran := make(chan errs.Code, 1)
	orch.Run(func(code errs.Code) { ran <- code })
	<-ran

	log.Info("running")
	<-waitForSignal(ctx)
	log.Info("shutting down")
	return nil
}

func waitForSignal(ctx context.Context) <-chan os.Signal {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan os.Signal, 1)
	go func() {
		select {
		case s := <-sig:
			done <- s
		case <-ctx.Done():
			done <- os.Interrupt
		}
	}()
	return done
}

func newLogger(v *viper.Viper) xlog.Logger {
	log := xlog.New()

	var base xlog.Handler
	if path := v.GetString("log-file"); path != "" {
		base = xlog.FileHandler(path, 100, 5, 28)
	} else if v.GetString("log-format") == "json" {
		base = xlog.JSONHandler(os.Stderr)
	} else {
		base = xlog.StreamHandler(os.Stderr)
	}

	lvl := xlog.Lvl(v.GetInt("log-verbosity"))
	log.SetHandler(xlog.LvlFilterHandler(lvl, base))
	return log
}

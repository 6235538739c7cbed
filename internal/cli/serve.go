package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsline/failsafe/internal/adapter"
	"github.com/opsline/failsafe/internal/alert"
	"github.com/opsline/failsafe/internal/audit"
	"github.com/opsline/failsafe/internal/authz"
	"github.com/opsline/failsafe/internal/config"
	"github.com/opsline/failsafe/internal/engine"
	"github.com/opsline/failsafe/internal/health"
	"github.com/opsline/failsafe/internal/scope"
	"github.com/opsline/failsafe/internal/server"
	"github.com/opsline/failsafe/internal/state"
	"github.com/opsline/failsafe/internal/token"
)

var serveConfig string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to config YAML")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long:  "Replays the durable state log, then serves the administrative API,\nthe health monitor loop, and config hot-reload until interrupted.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgHash, err := config.Load(serveConfig)
	if err != nil {
		return err
	}

	// Replay completes before the first request is accepted.
	store, err := state.Open(cfg.StateFile())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	auditLog, err := audit.Open(cfg.AuditFile())
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	dispatcher := alert.NewDispatcher(cfg.Alerts)

	detector := audit.NewDetector(cfg.Anomaly.Window, cfg.Anomaly.Threshold, func(actorID string, count int) {
		rec := audit.Record{
			Action:    audit.ActionAnomalyDetected,
			Reason:    fmt.Sprintf("%d denied attempts in window", count),
			ActorID:   actorID,
			ActorKind: "system",
		}
		auditLog.Append(rec)
		if dispatcher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			dispatcher.Dispatch(ctx, alert.Event{
				Action:   string(audit.ActionAnomalyDetected),
				Reason:   rec.Reason,
				ActorID:  actorID,
				Internal: true,
			})
		}
	})

	secret := []byte(cfg.Token.Secret)
	if len(secret) == 0 {
		return fmt.Errorf("config: token.secret is required to serve")
	}
	verifier, err := token.NewVerifier(secret, cfg.Token.Issuers)
	if err != nil {
		return err
	}
	minter, err := token.NewMinter(health.DefaultSubject, secret, cfg.Token.TTL)
	if err != nil {
		return err
	}

	gate := authz.New(cfg.RoleTable(), verifier)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Config{
		Gate:       gate,
		Store:      store,
		Registry:   registry,
		AuditLog:   auditLog,
		Detector:   detector,
		Dispatcher: dispatcher,
		Budget:     cfg.Budget,
		ConfigHash: cfgHash,
	})
	if err != nil {
		return err
	}

	monitor, err := buildMonitor(cfg, minter, eng)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Listen:     cfg.Listen,
		Engine:     eng,
		Store:      store,
		Monitor:    monitor,
		Dispatcher: dispatcher,
		AuditLog:   auditLog,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if monitor != nil {
		go monitor.Run(ctx)
	}

	if serveConfig != "" {
		reloader, err := server.NewReloader(gate, serveConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
		} else {
			go reloader.Run(ctx)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down control plane...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "failsafe control plane listening on %s\n", cfg.Listen)
	fmt.Fprintf(os.Stderr, "state: %s\naudit: %s\n", cfg.StateFile(), cfg.AuditFile())
	if len(store.ListActive()) > 0 {
		fmt.Fprintf(os.Stderr, "replayed %d active switch(es)\n", len(store.ListActive()))
	}

	return srv.Start(ctx)
}

func buildRegistry(cfg *config.Config) (*adapter.Registry, error) {
	registry := adapter.NewRegistry()
	for _, a := range cfg.Adapters {
		wh, err := adapter.NewWebhook(a.Name, a.StopURL, a.StartURL, a.Headers)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(wh); err != nil {
			return nil, err
		}
	}
	for lvl, names := range cfg.Bindings {
		if err := registry.Bind(scope.Level(lvl), names); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildMonitor(cfg *config.Config, minter *token.Minter, eng *engine.Engine) (*health.Monitor, error) {
	if len(cfg.Health.Checks) == 0 {
		return nil, nil
	}
	var checks []health.Check
	for _, c := range cfg.Health.Checks {
		checks = append(checks, health.NewHTTPCheck(c.Name, c.URL, c.Timeout))
	}
	var escalations []health.Escalation
	for _, e := range cfg.Health.Escalations {
		ref, err := scope.Parse(e.Scope)
		if err != nil {
			return nil, err
		}
		escalations = append(escalations, health.Escalation{
			Check: e.Check,
			Level: scope.Level(e.Level),
			Scope: ref,
		})
	}
	return health.New(health.Config{
		Interval:    cfg.Health.Interval,
		Cooldown:    cfg.Health.Cooldown,
		DegradedMin: cfg.Health.DegradedMin,
		CriticalMin: cfg.Health.CriticalMin,
		Checks:      checks,
		Escalations: escalations,
		Minter:      minter,
	}, eng)
}

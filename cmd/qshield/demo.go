package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/quantum-shield/internal/config"
	"github.com/danielpatrickdp/quantum-shield/internal/gate"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/orchestrator"
	"github.com/danielpatrickdp/quantum-shield/internal/trust"
)

// #region demo
func demoCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Protect a sample record, read it, then attack it until it collapses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout(), verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr while running")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Superposition.AutoRotationInterval = 0
	w := io.Discard
	if verbose {
		w = os.Stderr
	}
	logger := logging.New(cfg.Logging, w)
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openShield(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer s.Close()
	c := s.client

	unsubscribe := c.Subscribe(func(ev orchestrator.Event) {
		fmt.Fprintf(out, "  event %-28s item=%s %s\n", ev.Type, shortID(ev.ItemID), ev.Reason)
	})
	defer unsubscribe()

	res, err := c.ProtectData(ctx, map[string]any{"account": "ACC-1001", "balance": 100}, orchestrator.Policy{StateCount: 3},
		logging.AuditContext{UserID: "demo"})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "protected %s as %d states (proof=%t)\n", res.ID, res.StateCount, res.Proof != nil)

	owner := orchestrator.ObserveRequest{
		Credentials: gate.Credentials{UserID: "owner", Token: "owner-session-token"},
		Request:     trust.RequestContext{SourceIP: "203.0.113.7", UserAgent: "Mozilla/5.0", DeviceID: "laptop", TLS: true},
	}
	got, err := c.ObserveData(ctx, res.ID, owner)
	if err != nil {
		return err
	}
	printObservation(out, "owner", got)

	attacker := orchestrator.ObserveRequest{
		Credentials: gate.Credentials{UserID: "mallory", Token: "guess"},
		Request:     trust.RequestContext{SourceIP: "198.51.100.66", UserAgent: "Mozilla/5.0", DeviceID: "tablet", TLS: true},
	}
	for i := 1; i <= cfg.Observer.Threshold+1; i++ {
		got, err := c.ObserveData(ctx, res.ID, attacker)
		if err != nil {
			return err
		}
		printObservation(out, fmt.Sprintf("attack %d", i), got)
	}

	m, err := c.Metrics(res.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "final: collapsed=%t states=%d health=%.2f unauthorized=%d\n",
		m.IsCollapsed, m.TotalStates, m.HealthScore, m.UnauthorizedAttempts)
	return nil
}

func printObservation(out io.Writer, who string, r orchestrator.ObserveResult) {
	data, _ := json.Marshal(r.Data)
	fmt.Fprintf(out, "%-9s success=%-5t state=%-9s trust=%.2f reason=%q data=%s\n",
		who, r.Success, r.State, r.TrustScore, r.Reason, data)
	if r.Defense != nil {
		fmt.Fprintf(out, "          defense=%s escalated=%t actions=%d failed=%d\n",
			r.Defense.Strategy, r.Defense.Escalated, len(r.Defense.Results), r.Defense.Failed)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion demo

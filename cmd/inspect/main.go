package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danielpatrickdp/quantum-shield/internal/defense"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/orchestrator"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
	"github.com/danielpatrickdp/quantum-shield/internal/storage"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to qshield.db")
	mode := flag.String("mode", "records", "records | snapshots | audit | outcomes")
	last := flag.Int("last", 20, "show N most recent rows")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/qshield.db [--mode records|snapshots|audit|outcomes] [--last N] [--json]")
		os.Exit(2)
	}

	store, err := storage.NewSQLiteAdapter(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	switch *mode {
	case "records":
		err = runRecordMode(ctx, store, state.KindState, *last, *jsonOut)
	case "snapshots":
		err = runRecordMode(ctx, store, state.KindSnapshot, *last, *jsonOut)
	case "audit":
		err = runAuditMode(ctx, store, *last, *jsonOut)
	case "outcomes":
		err = runOutcomeMode(ctx, store, *jsonOut)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region record-mode

type recordRow struct {
	ID         string  `json:"id"`
	Compressed bool    `json:"compressed"`
	Ratio      float64 `json:"compression_ratio"`
	Replicas   int     `json:"replication_factor"`
	Location   string  `json:"location"`
	Accesses   int     `json:"accesses"`
	Checksum   string  `json:"checksum_sha256"`
	UpdatedAt  string  `json:"updated_at"`
}

func runRecordMode(ctx context.Context, store *storage.SQLiteAdapter, kind state.RecordKind, last int, jsonOut bool) error {
	recs, err := store.List(ctx, kind, last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(os.Stderr, "no %s records found\n", kind)
		return nil
	}

	rows := make([]recordRow, len(recs))
	for i, r := range recs {
		rows[i] = recordRow{
			ID:         r.ID,
			Compressed: r.Compressed,
			Ratio:      r.CompressionRatio,
			Replicas:   r.ReplicationFactor,
			Location:   location(r.Location),
			Accesses:   len(r.AccessHistory),
			Checksum:   r.ChecksumSHA256,
			UpdatedAt:  r.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-5s  %6s  %4s  %-24s  %5s  %-12s  %s\n",
		"ID", "Zstd", "Ratio", "Copy", "Location", "Reads", "Checksum", "Updated")
	fmt.Printf("%-10s+-%-5s+-%6s+-%4s+-%-24s+-%5s+-%-12s+-%s\n",
		"----------", "-----", "------", "----", "------------------------", "-----", "------------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-10s  %-5t  %6.2f  %4d  %-24s  %5d  %-12s  %s\n",
			shortID(strings.TrimPrefix(r.ID, "snapshot:")), r.Compressed, r.Ratio, r.Replicas, r.Location, r.Accesses, shortID(r.Checksum), r.UpdatedAt)
	}
	return nil
}

func location(l state.Location) string {
	parts := []string{string(l.Primary)}
	for _, t := range l.Replicas {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ",")
}

// #endregion record-mode

// #region audit-mode

func runAuditMode(ctx context.Context, store *storage.SQLiteAdapter, last int, jsonOut bool) error {
	sink, err := logging.NewSQLiteSink(store.DB())
	if err != nil {
		return err
	}
	events, err := sink.Recent(ctx, last)
	if err != nil {
		return err
	}
	chainErr := logging.VerifyChain(events)
	if jsonOut {
		return printJSON(map[string]any{"events": events, "chain_ok": chainErr == nil})
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stderr, "no audit events found")
		return nil
	}

	fmt.Printf("%-20s  %-8s  %-11s  %-26s  %-10s  %s\n", "Time", "Level", "Category", "Event", "User", "Message")
	fmt.Printf("%-20s+-%-8s+-%-11s+-%-26s+-%-10s+-%s\n",
		"--------------------", "--------", "-----------", "--------------------------", "----------", "--------------------")
	for _, ev := range events {
		fmt.Printf("%-20s  %-8s  %-11s  %-26s  %-10s  %s\n",
			ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), ev.Level, ev.Category, ev.Event, shortID(ev.Context.UserID), ev.Message)
	}
	if chainErr != nil {
		fmt.Printf("\nhash chain BROKEN: %v\n", chainErr)
	} else {
		fmt.Printf("\nhash chain intact over %d events\n", len(events))
	}
	return nil
}

// #endregion audit-mode

// #region outcome-mode

type outcomeRow struct {
	Level       defense.ThreatLevel `json:"level"`
	Strategy    defense.StrategyID  `json:"strategy"`
	Samples     int                 `json:"samples"`
	SuccessRate float64             `json:"success_rate"`
}

func runOutcomeMode(ctx context.Context, store *storage.SQLiteAdapter, jsonOut bool) error {
	mem, err := orchestrator.NewDefenseMemory(store.DB())
	if err != nil {
		return err
	}
	var rows []outcomeRow
	for _, level := range []defense.ThreatLevel{defense.ThreatLow, defense.ThreatMedium, defense.ThreatHigh, defense.ThreatCritical} {
		stats, err := mem.SuccessRates(ctx, level)
		if err != nil {
			return err
		}
		for _, s := range stats {
			rows = append(rows, outcomeRow{Level: level, Strategy: s.StrategyID, Samples: s.Samples, SuccessRate: s.SuccessRate})
		}
	}
	if jsonOut {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no strategy has enough samples yet")
		return nil
	}

	fmt.Printf("%-9s  %-18s  %7s  %s\n", "Level", "Strategy", "Samples", "Success")
	fmt.Printf("%-9s+-%-18s+-%7s+-%s\n", "---------", "------------------", "-------", "-------")
	for _, r := range rows {
		fmt.Printf("%-9s  %-18s  %7d  %6.1f%%\n", r.Level, r.Strategy, r.Samples, 100*r.SuccessRate)
	}
	return nil
}

// #endregion outcome-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output

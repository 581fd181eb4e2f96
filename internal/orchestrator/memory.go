package orchestrator

// #region imports
import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/danielpatrickdp/quantum-shield/internal/defense"
)

// #endregion

// #region schema

const defenseOutcomesSchema = `
CREATE TABLE IF NOT EXISTS defense_outcomes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id       TEXT NOT NULL,
    source        TEXT NOT NULL DEFAULT '',
    threat_level  TEXT NOT NULL,
    risk_score    REAL NOT NULL,
    strategy_id   TEXT NOT NULL,
    escalated     INTEGER NOT NULL DEFAULT 0,
    actions       INTEGER NOT NULL,
    failed        INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL
);
`

const defenseOutcomesIndex = `
CREATE INDEX IF NOT EXISTS idx_defense_outcomes_lookup
ON defense_outcomes(threat_level, strategy_id);
`

// #endregion

// #region memory-struct

// OutcomeRecord is one persisted Responder run.
type OutcomeRecord struct {
	ItemID     string
	Source     string
	Level      defense.ThreatLevel
	RiskScore  float64
	StrategyID defense.StrategyID
	Escalated  bool
	Actions    int
	Failed     int
	CreatedAt  time.Time
}

// DefenseMemory persists defense outcomes in SQLite and reports decay-weighted
// success rates per strategy.
type DefenseMemory struct {
	db  *sql.DB
	now func() time.Time
}

// NewDefenseMemory initializes the defense_outcomes table.
func NewDefenseMemory(db *sql.DB) (*DefenseMemory, error) {
	if _, err := db.Exec(defenseOutcomesSchema); err != nil {
		return nil, err
	}
	if _, err := db.Exec(defenseOutcomesIndex); err != nil {
		return nil, err
	}
	return &DefenseMemory{db: db, now: time.Now}, nil
}

// #endregion

// #region record-outcome

// RecordOutcome persists a single defense outcome row.
func (m *DefenseMemory) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	escalated := 0
	if rec.Escalated {
		escalated = 1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO defense_outcomes
		(item_id, source, threat_level, risk_score, strategy_id,
		 escalated, actions, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ItemID,
		rec.Source,
		string(rec.Level),
		rec.RiskScore,
		string(rec.StrategyID),
		escalated,
		rec.Actions,
		rec.Failed,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// recordResponse adapts a Responder run into an OutcomeRecord.
func (m *DefenseMemory) recordResponse(ctx context.Context, ta defense.ThreatAssessment, resp defense.Response) error {
	return m.RecordOutcome(ctx, OutcomeRecord{
		ItemID:     ta.ItemID,
		Source:     ta.Source,
		Level:      ta.Level,
		RiskScore:  ta.RiskScore,
		StrategyID: resp.Strategy,
		Escalated:  resp.Escalated,
		Actions:    len(resp.Results),
		Failed:     resp.Failed,
	})
}

// #endregion

// #region success-rate

// StrategyStats is the decay-weighted summary of one strategy.
type StrategyStats struct {
	StrategyID  defense.StrategyID
	Samples     int
	SuccessRate float64 // weighted share of actions that succeeded
}

// SuccessRates returns per-strategy stats for level, weighting each run by
// exp(-age/halfLife) with a 7 day half-life. Strategies with fewer than 3
// samples are omitted.
func (m *DefenseMemory) SuccessRates(ctx context.Context, level defense.ThreatLevel) ([]StrategyStats, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT strategy_id, actions, failed, created_at
		FROM defense_outcomes
		WHERE threat_level = ?
		ORDER BY strategy_id`,
		string(level),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type stratAccum struct {
		weightedSum float64
		totalWeight float64
		count       int
	}

	now := m.now()
	halfLife := 7.0 * 24.0 // 7 days in hours
	accum := make(map[defense.StrategyID]*stratAccum)
	var order []defense.StrategyID

	for rows.Next() {
		var sid, createdAtStr string
		var actions, failed int
		if err := rows.Scan(&sid, &actions, &failed, &createdAtStr); err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339, createdAtStr)
		if err != nil || actions == 0 {
			continue
		}
		weight := math.Exp(-now.Sub(createdAt).Hours() / halfLife)

		id := defense.StrategyID(sid)
		a, ok := accum[id]
		if !ok {
			a = &stratAccum{}
			accum[id] = a
			order = append(order, id)
		}
		a.weightedSum += weight * float64(actions-failed) / float64(actions)
		a.totalWeight += weight
		a.count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []StrategyStats
	for _, id := range order {
		a := accum[id]
		if a.count < 3 || a.totalWeight == 0 {
			continue
		}
		out = append(out, StrategyStats{StrategyID: id, Samples: a.count, SuccessRate: a.weightedSum / a.totalWeight})
	}
	return out, nil
}

// #endregion

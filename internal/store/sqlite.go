package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict means the row exists but is not in the status the
	// transition requires.
	ErrConflict = errors.New("conflicting state")

	// ErrCounterOrder means an increment was rejected because it would
	// break impressions >= clicks >= conversions.
	ErrCounterOrder = errors.New("counter increment out of order")
)

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    winner_variant_id TEXT,
    confidence REAL,
    start_date INTEGER,
    end_date INTEGER,
    decided_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);

CREATE TABLE IF NOT EXISTS variants (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    name TEXT NOT NULL,
    position INTEGER NOT NULL,
    impressions INTEGER NOT NULL DEFAULT 0,
    clicks INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_variants_experiment ON variants(experiment_id, position);

CREATE TABLE IF NOT EXISTS safety_checks (
    id TEXT PRIMARY KEY,
    content_id TEXT NOT NULL,
    overall_score REAL NOT NULL,
    is_safe INTEGER NOT NULL,
    checks TEXT NOT NULL,
    issues TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_safety_content ON safety_checks(content_id, created_at);

CREATE TABLE IF NOT EXISTS deployments (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_deployments_experiment ON deployments(experiment_id);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// newID builds IDs like exp_1a2b3c4d, matching the dashboard's entity
// naming.
func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, name string, typ ExperimentType, variantNames []string) (*Experiment, error) {
	if len(variantNames) < 2 {
		return nil, fmt.Errorf("need at least 2 variants, got %d", len(variantNames))
	}
	if typ == TypeAB && len(variantNames) != 2 {
		return nil, fmt.Errorf("ab experiments need exactly 2 variants, got %d", len(variantNames))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	exp := &Experiment{
		ID:        newID("exp"),
		Name:      name,
		Type:      typ,
		Status:    StatusDraft,
		CreatedAt: time.Unix(now, 0),
		UpdatedAt: time.Unix(now, 0),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO experiments (id, name, type, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'draft', ?, ?)`,
		exp.ID, name, string(typ), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert experiment: %w", err)
	}

	for i, vn := range variantNames {
		v := Variant{
			ID:           newID("var"),
			ExperimentID: exp.ID,
			Name:         vn,
			Position:     i,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO variants (id, experiment_id, name, position) VALUES (?, ?, ?, ?)`,
			v.ID, v.ExperimentID, v.Name, v.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert variant: %w", err)
		}
		exp.Variants = append(exp.Variants, v)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return exp, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	exp, err := s.scanExperiment(s.db.QueryRowContext(ctx,
		`SELECT id, name, type, status, winner_variant_id, confidence, start_date, end_date, decided_at, created_at, updated_at
		 FROM experiments WHERE id = ?`, id,
	))
	if err != nil {
		return nil, err
	}

	if err := s.loadVariants(ctx, exp); err != nil {
		return nil, err
	}

	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, status, winner_variant_id, confidence, start_date, end_date, decided_at, created_at, updated_at
		 FROM experiments ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		exp, err := s.scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate experiments: %w", err)
	}

	for _, exp := range experiments {
		if err := s.loadVariants(ctx, exp); err != nil {
			return nil, err
		}
	}

	return experiments, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var winner sql.NullString
	var confidence sql.NullFloat64
	var startDate, endDate, decidedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&exp.ID, &exp.Name, &exp.Type, &exp.Status, &winner, &confidence,
		&startDate, &endDate, &decidedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan experiment: %w", err)
	}

	if winner.Valid {
		w := winner.String
		exp.WinnerVariantID = &w
	}
	if confidence.Valid {
		c := confidence.Float64
		exp.Confidence = &c
	}
	exp.StartDate = nullableTime(startDate)
	exp.EndDate = nullableTime(endDate)
	exp.DecidedAt = nullableTime(decidedAt)
	exp.CreatedAt = time.Unix(createdAt, 0)
	exp.UpdatedAt = time.Unix(updatedAt, 0)

	return &exp, nil
}

func (s *SQLiteStore) loadVariants(ctx context.Context, exp *Experiment) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, name, position, impressions, clicks, conversions
		 FROM variants WHERE experiment_id = ? ORDER BY position`, exp.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load variants: %w", err)
	}
	defer rows.Close()

	exp.Variants = exp.Variants[:0]
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ExperimentID, &v.Name, &v.Position, &v.Impressions, &v.Clicks, &v.Conversions); err != nil {
			return fmt.Errorf("failed to scan variant: %w", err)
		}
		exp.Variants = append(exp.Variants, v)
	}
	return rows.Err()
}

func (s *SQLiteStore) StartExperiment(ctx context.Context, id string, endDate time.Time) error {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = 'running', start_date = ?, end_date = ?, updated_at = ?
		 WHERE id = ? AND status = 'draft'`,
		now, endDate.Unix(), now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to start experiment: %w", err)
	}
	return s.requireTransition(ctx, result, id)
}

func (s *SQLiteStore) StopExperiment(ctx context.Context, id string) error {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = 'stopped', updated_at = ? WHERE id = ? AND status = 'running'`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to stop experiment: %w", err)
	}
	return s.requireTransition(ctx, result, id)
}

func (s *SQLiteStore) CompleteExperiment(ctx context.Context, id string) error {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = 'completed', updated_at = ? WHERE id = ? AND status = 'running'`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete experiment: %w", err)
	}
	return s.requireTransition(ctx, result, id)
}

// UpdateConfidence records the latest evaluation confidence on a still
// running experiment. A no-op if the experiment left the running state.
func (s *SQLiteStore) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET confidence = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		confidence, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update confidence: %w", err)
	}
	return nil
}

// CommitDecision transitions a running experiment to stopped with its
// winner. The status predicate in the UPDATE is the last-writer check: an
// evaluation that raced a concurrent stop simply reports committed=false.
func (s *SQLiteStore) CommitDecision(ctx context.Context, id string, winnerVariantID string, confidence float64) (bool, error) {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = 'stopped', winner_variant_id = ?, confidence = ?, decided_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		winnerVariantID, confidence, now, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to commit decision: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// RecordEvent applies one atomic counter increment. The WHERE guards on
// clicks and conversions keep impressions >= clicks >= conversions
// inside the database regardless of delivery order.
func (s *SQLiteStore) RecordEvent(ctx context.Context, variantID string, event EventType) error {
	var query string
	switch event {
	case EventImpression:
		query = `UPDATE variants SET impressions = impressions + 1 WHERE id = ?`
	case EventClick:
		query = `UPDATE variants SET clicks = clicks + 1 WHERE id = ? AND clicks < impressions`
	case EventConversion:
		query = `UPDATE variants SET conversions = conversions + 1 WHERE id = ? AND conversions < clicks`
	default:
		return fmt.Errorf("unknown event type: %s", event)
	}

	result, err := s.db.ExecContext(ctx, query, variantID)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM variants WHERE id = ?`, variantID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to check variant: %w", err)
	}
	return ErrCounterOrder
}

func (s *SQLiteStore) SaveSafetyCheck(ctx context.Context, check *SafetyCheck) error {
	checksJSON, err := json.Marshal(check.Checks)
	if err != nil {
		return fmt.Errorf("failed to marshal checks: %w", err)
	}

	var issuesJSON []byte
	if len(check.Issues) > 0 {
		issuesJSON, err = json.Marshal(check.Issues)
		if err != nil {
			return fmt.Errorf("failed to marshal issues: %w", err)
		}
	}

	if check.ID == "" {
		check.ID = newID("check")
	}
	if check.CreatedAt.IsZero() {
		check.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO safety_checks (id, content_id, overall_score, is_safe, checks, issues, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		check.ID, check.ContentID, check.OverallScore, boolToInt(check.IsSafe),
		string(checksJSON), nullableString(issuesJSON), check.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert safety check: %w", err)
	}

	return nil
}

func (s *SQLiteStore) LatestSafetyCheck(ctx context.Context, contentID string) (*SafetyCheck, error) {
	return s.scanSafetyCheck(s.db.QueryRowContext(ctx,
		`SELECT id, content_id, overall_score, is_safe, checks, issues, created_at
		 FROM safety_checks WHERE content_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		contentID,
	))
}

func (s *SQLiteStore) ListSafetyChecks(ctx context.Context) ([]*SafetyCheck, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content_id, overall_score, is_safe, checks, issues, created_at
		 FROM safety_checks ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list safety checks: %w", err)
	}
	defer rows.Close()

	var checks []*SafetyCheck
	for rows.Next() {
		check, err := s.scanSafetyCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}
	return checks, rows.Err()
}

func (s *SQLiteStore) scanSafetyCheck(row rowScanner) (*SafetyCheck, error) {
	var check SafetyCheck
	var isSafe int
	var checksJSON string
	var issuesJSON sql.NullString
	var createdAt int64

	err := row.Scan(&check.ID, &check.ContentID, &check.OverallScore, &isSafe, &checksJSON, &issuesJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan safety check: %w", err)
	}

	check.IsSafe = isSafe != 0
	check.CreatedAt = time.Unix(createdAt, 0)

	if err := json.Unmarshal([]byte(checksJSON), &check.Checks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checks: %w", err)
	}
	if issuesJSON.Valid && issuesJSON.String != "" {
		if err := json.Unmarshal([]byte(issuesJSON.String), &check.Issues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal issues: %w", err)
		}
	}

	return &check, nil
}

// CreateDeployment appends to the promotion log. The unique index on
// experiment_id plus INSERT OR IGNORE makes repeat calls return the
// original record instead of duplicating it.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, experimentID, variantID string) (*Deployment, error) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deployments (id, experiment_id, variant_id, created_at) VALUES (?, ?, ?, ?)`,
		newID("dep"), experimentID, variantID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert deployment: %w", err)
	}

	return s.GetDeployment(ctx, experimentID)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, experimentID string) (*Deployment, error) {
	var dep Deployment
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, experiment_id, variant_id, created_at FROM deployments WHERE experiment_id = ?`,
		experimentID,
	).Scan(&dep.ID, &dep.ExperimentID, &dep.VariantID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	dep.CreatedAt = time.Unix(createdAt, 0)
	return &dep, nil
}

func (s *SQLiteStore) requireTransition(ctx context.Context, result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM experiments WHERE id = ?`, id).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to check experiment: %w", err)
	}
	return ErrConflict
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

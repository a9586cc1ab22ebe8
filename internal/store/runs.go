package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Run struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Request     json.RawMessage `json:"request"`
	Roles       []string        `json:"roles"`
	Status      string          `json:"status"`
	DurationMS  int64           `json:"duration_ms"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Results     []RoleResult    `json:"results,omitempty"`
}

// RoleResult is how one role fared in a run, with the text shown to the user.
type RoleResult struct {
	Role      string `json:"role"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Items     int    `json:"items"`
	Attempts  int    `json:"attempts"`
	Degraded  bool   `json:"degraded,omitempty"`
	Exhausted bool   `json:"exhausted,omitempty"`
	Text      string `json:"text"`
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	r := &Run{}
	var request, roles string
	err := scanner.Scan(&r.ID, &r.Source, &request, &roles, &r.Status, &r.DurationMS, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Request = json.RawMessage(request)
	if err := json.Unmarshal([]byte(roles), &r.Roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	return r, nil
}

const runColumns = `id, source, request, roles, status, duration_ms, started_at, completed_at`

// SaveRun inserts or updates a run together with its per-role results.
func (s *Store) SaveRun(r *Run) error {
	roles, err := json.Marshal(r.Roles)
	if err != nil {
		return fmt.Errorf("encode roles: %w", err)
	}
	request := r.Request
	if len(request) == 0 {
		request = json.RawMessage("{}")
	}
	source := r.Source
	if source == "" {
		source = "api"
	}
	status := r.Status
	if status == "" {
		status = RunRunning
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, source, request, roles, status, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			duration_ms = excluded.duration_ms,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, source, string(request), string(roles), status, r.DurationMS)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if len(r.Results) > 0 {
		if _, err := tx.Exec(`DELETE FROM run_results WHERE run_id = ?`, r.ID); err != nil {
			return fmt.Errorf("clear run results: %w", err)
		}
		for _, res := range r.Results {
			_, err := tx.Exec(`
				INSERT INTO run_results (run_id, role, status, message, items, attempts, degraded, exhausted, text)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, res.Role, res.Status, res.Message, res.Items, res.Attempts, res.Degraded, res.Exhausted, res.Text)
			if err != nil {
				return fmt.Errorf("save run result %s: %w", res.Role, err)
			}
		}
	}

	return tx.Commit()
}

// GetRun returns the run with its results, or nil when it does not exist.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT role, status, COALESCE(message, ''), items, attempts, degraded, exhausted, text
		FROM run_results WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get run results: %w", err)
	}
	defer rows.Close()

	byRole := make(map[string]RoleResult)
	for rows.Next() {
		var res RoleResult
		if err := rows.Scan(&res.Role, &res.Status, &res.Message, &res.Items, &res.Attempts, &res.Degraded, &res.Exhausted, &res.Text); err != nil {
			return nil, fmt.Errorf("scan run result: %w", err)
		}
		byRole[res.Role] = res
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Results follow the run's role order
	for _, role := range r.Roles {
		if res, ok := byRole[role]; ok {
			r.Results = append(r.Results, res)
		}
	}
	return r, nil
}

// ListRuns returns the most recent runs first, without their results.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_results WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete run results: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return tx.Commit()
}

func (s *Store) UpdateRun(id, status string, duration time.Duration) error {
	_, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, duration_ms = ?,
		    completed_at = CASE WHEN ? IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?`, status, duration.Milliseconds(), status, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// RoleStats counts results per role and status across all runs.
func (s *Store) RoleStats() (map[string]map[string]int, error) {
	rows, err := s.db.Query(`SELECT role, status, COUNT(*) FROM run_results GROUP BY role, status`)
	if err != nil {
		return nil, fmt.Errorf("role stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]map[string]int)
	for rows.Next() {
		var role, status string
		var n int
		if err := rows.Scan(&role, &status, &n); err != nil {
			return nil, err
		}
		if stats[role] == nil {
			stats[role] = make(map[string]int)
		}
		stats[role][status] = n
	}
	return stats, rows.Err()
}

// PruneRuns deletes runs started before the cutoff, with their results, and
// returns how many runs were removed.
func (s *Store) PruneRuns(before time.Time) (int64, error) {
	cutoff := before.UTC().Format("2006-01-02 15:04:05")

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM run_results
		WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("prune run results: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

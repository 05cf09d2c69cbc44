package runs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/forecastbt/internal/config"
)

// Status is a run's lifecycle state
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Run is one row of the run registry
type Run struct {
	ID         string            `json:"id"`
	Symbol     string            `json:"symbol"`
	Status     Status            `json:"status"`
	UniqueKey  string            `json:"unique_key,omitempty"`
	Request    config.RunRequest `json:"request"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	ReportPath string            `json:"report_path,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Repository stores runs in the runs database
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a run repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create inserts a new pending run
func (r *Repository) Create(run *Run) error {
	req, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal run request: %w", err)
	}
	now := r.now()
	if run.Status == "" {
		run.Status = StatusPending
	}
	run.CreatedAt, run.UpdatedAt = now, now

	_, err = r.db.Exec(`
		INSERT INTO runs (id, symbol, status, unique_key, request, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Symbol, string(run.Status), run.UniqueKey, string(req), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// SetStatus moves a run to status, recording errMsg for failures
func (r *Repository) SetStatus(id string, status Status, errMsg string) error {
	return r.update(id, `UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, r.now().Unix(), id)
}

// Complete stores the run's result and marks it done
func (r *Repository) Complete(id, uniqueKey string, result interface{}) error {
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal run result: %w", err)
	}
	return r.update(id, `UPDATE runs SET status = ?, unique_key = ?, result = ?, error = '', updated_at = ? WHERE id = ?`,
		string(StatusDone), uniqueKey, blob, r.now().Unix(), id)
}

// SetReportPath records where the run's report was written
func (r *Repository) SetReportPath(id, path string) error {
	return r.update(id, `UPDATE runs SET report_path = ?, updated_at = ? WHERE id = ?`, path, r.now().Unix(), id)
}

func (r *Repository) update(id, query string, args ...interface{}) error {
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// Get returns a run with its result, or nil when it does not exist
func (r *Repository) Get(id string) (*Run, error) {
	row := r.db.QueryRow(`
		SELECT id, symbol, status, unique_key, request, result, error, report_path, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row.Scan, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// List returns the most recent runs, newest first, without their results
func (r *Repository) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, symbol, status, unique_key, request, NULL, error, report_path, created_at, updated_at
		FROM runs ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows.Scan, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// FailRunning marks runs left running by a previous process as failed
func (r *Repository) FailRunning(reason string) (int64, error) {
	res, err := r.db.Exec(`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE status IN (?, ?)`,
		string(StatusFailed), reason, r.now().Unix(), string(StatusPending), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to reset interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scan func(dest ...interface{}) error, withResult bool) (*Run, error) {
	var (
		run                  Run
		status, req          string
		result               []byte
		createdAt, updatedAt int64
	)
	if err := scan(&run.ID, &run.Symbol, &status, &run.UniqueKey, &req, &result, &run.Error,
		&run.ReportPath, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if err := json.Unmarshal([]byte(req), &run.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request of run %s: %w", run.ID, err)
	}
	if withResult && len(result) > 0 {
		run.Result = json.RawMessage(result)
	}
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	run.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &run, nil
}

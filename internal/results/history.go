package results

import (
	"database/sql"
	"fmt"
	"time"

	"grimm.is/floe/internal/logging"

	_ "modernc.org/sqlite"
)

// HistoryEntry is one recorded run.
type HistoryEntry struct {
	RunID       string
	StartedAt   time.Time
	Duration    string
	PFCount     int
	PortsPerPF  int
	VFsPerPort  int
	Passed      int
	Failed      int
	Propagation string
	Success     bool
	Failure     string
}

// History is the local run-history database.
type History struct {
	db  *sql.DB
	log *logging.Logger
}

// OpenHistory opens or creates the run-history database at path.
// Use ":memory:" for an in-memory database.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("results: open history: %w", err)
	}

	h := &History{db: db, log: logging.WithComponent("history")}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("results: init history schema: %w", err)
	}
	return h, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			started_at DATETIME NOT NULL,
			duration TEXT,
			pf_count INTEGER NOT NULL,
			ports_per_pf INTEGER NOT NULL,
			vfs_per_port INTEGER NOT NULL,
			passed INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0,
			propagation TEXT,
			success BOOLEAN DEFAULT 0,
			failure TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_runs_success ON runs(success);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Record persists one finished run.
func (h *History) Record(r *Report) error {
	_, err := h.db.Exec(`
		INSERT INTO runs (run_id, started_at, duration, pf_count, ports_per_pf,
			vfs_per_port, passed, failed, propagation, success, failure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedAt, r.Duration,
		r.Topology.PFCount, r.Topology.PortsPerPF, r.Topology.VFsPerPort,
		r.Guest.Passed, r.Guest.Failed,
		r.Propagation.State, r.Success, r.Failure,
	)
	if err != nil {
		return fmt.Errorf("results: record run: %w", err)
	}
	h.log.Debug("run recorded", "run_id", r.RunID, "success", r.Success)
	return nil
}

// List returns the most recent runs, newest first.
func (h *History) List(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.Query(`
		SELECT run_id, started_at, duration, pf_count, ports_per_pf,
			vfs_per_port, passed, failed, propagation, success, failure
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("results: list runs: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var failure sql.NullString
		if err := rows.Scan(&e.RunID, &e.StartedAt, &e.Duration,
			&e.PFCount, &e.PortsPerPF, &e.VFsPerPort,
			&e.Passed, &e.Failed, &e.Propagation, &e.Success, &failure); err != nil {
			return nil, fmt.Errorf("results: scan run: %w", err)
		}
		e.Failure = failure.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

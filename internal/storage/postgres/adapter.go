package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
	apperrors "github.com/kurihiro0119/devops-activity-snapshot/internal/errors"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collection_runs (
		id TEXT PRIMARY KEY,
		base_uri TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'in_progress',
		message TEXT NOT NULL DEFAULT '',
		project_count INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_collection_runs_started_at ON collection_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_collection_runs_state ON collection_runs(state);

	CREATE TABLE IF NOT EXISTS project_activities (
		run_id TEXT NOT NULL REFERENCES collection_runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		owners JSONB NOT NULL DEFAULT '[]',
		process_template TEXT NOT NULL DEFAULT '',
		last_project_update_time TIMESTAMPTZ NOT NULL,
		last_commit_date TIMESTAMPTZ NOT NULL,
		last_work_item_date TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, project_id)
	);

	CREATE INDEX IF NOT EXISTS idx_project_activities_run_id ON project_activities(run_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or updates a run
func (s *postgresStorage) SaveRun(ctx context.Context, run *domain.CollectionRun) error {
	query := `
		INSERT INTO collection_runs (id, base_uri, state, message, project_count, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			message = EXCLUDED.message,
			project_count = EXCLUDED.project_count,
			finished_at = EXCLUDED.finished_at
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.BaseURI,
		string(run.State),
		run.Message,
		run.ProjectCount,
		run.StartedAt,
		run.FinishedAt,
	)
	return err
}

// GetRun retrieves a single run
func (s *postgresStorage) GetRun(ctx context.Context, id string) (*domain.CollectionRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, base_uri, state, message, project_count, started_at, finished_at
		FROM collection_runs
		WHERE id = $1
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	return run, err
}

// GetRuns retrieves the most recent runs, newest first
func (s *postgresStorage) GetRuns(ctx context.Context, limit int) ([]*domain.CollectionRun, error) {
	if limit <= 0 {
		limit = storage.DefaultRunLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, base_uri, state, message, project_count, started_at, finished_at
		FROM collection_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*domain.CollectionRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// SaveProjectActivities replaces the records stored for a run
func (s *postgresStorage) SaveProjectActivities(ctx context.Context, runID string, records []*domain.ProjectActivity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM project_activities WHERE run_id = $1`, runID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO project_activities (
			run_id, position, project_id, name, description, url, owners, process_template,
			last_project_update_time, last_commit_date, last_work_item_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, project_id) DO UPDATE SET
			position = EXCLUDED.position,
			owners = EXCLUDED.owners,
			process_template = EXCLUDED.process_template,
			last_commit_date = EXCLUDED.last_commit_date,
			last_work_item_date = EXCLUDED.last_work_item_date
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range records {
		ownersJSON, err := json.Marshal(r.Owners)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx,
			runID,
			i,
			r.ProjectID,
			r.Name,
			r.Description,
			r.URL,
			ownersJSON,
			r.ProcessTemplate,
			r.LastProjectUpdateTime,
			r.LastCommitDate,
			r.LastWorkItemDate,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetProjectActivities retrieves the records of a run in the order they were listed
func (s *postgresStorage) GetProjectActivities(ctx context.Context, runID string) ([]*domain.ProjectActivity, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, name, description, url, owners, process_template,
			last_project_update_time, last_commit_date, last_work_item_date
		FROM project_activities
		WHERE run_id = $1
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*domain.ProjectActivity{}
	for rows.Next() {
		var r domain.ProjectActivity
		var ownersJSON []byte

		err := rows.Scan(&r.ProjectID, &r.Name, &r.Description, &r.URL, &ownersJSON, &r.ProcessTemplate,
			&r.LastProjectUpdateTime, &r.LastCommitDate, &r.LastWorkItemDate)
		if err != nil {
			return nil, err
		}

		r.Owners = []domain.Owner{}
		if len(ownersJSON) > 0 {
			if err := json.Unmarshal(ownersJSON, &r.Owners); err != nil {
				return nil, err
			}
		}
		r.LastProjectUpdateTime = r.LastProjectUpdateTime.UTC()
		r.LastCommitDate = r.LastCommitDate.UTC()
		r.LastWorkItemDate = r.LastWorkItemDate.UTC()

		records = append(records, &r)
	}

	return records, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

func scanRun(row interface{ Scan(...any) error }) (*domain.CollectionRun, error) {
	var run domain.CollectionRun
	var state string
	var finishedAt sql.NullTime

	if err := row.Scan(&run.ID, &run.BaseURI, &state, &run.Message, &run.ProjectCount, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}

	run.State = domain.RunState(state)
	run.StartedAt = run.StartedAt.UTC()
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

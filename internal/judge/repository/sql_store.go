package repository

import (
	"context"
	"database/sql"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/verdict"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/repository"
)

const submissionColumns = "id, problem_id, user_id, language, code, status, test_cases_passed, total_test_cases, " +
	"runtime_ms, memory_kb, error_code, error_message, compile_output, abandoned, attempts, submitted_at, finished_at"

// SQLStore persists submissions in the submissions table of MySQL or PostgreSQL.
type SQLStore struct {
	provider db.Provider
}

func NewSQLStore(provider db.Provider) *SQLStore {
	return &SQLStore{provider: provider}
}

func (s *SQLStore) database() (db.Database, error) {
	database, err := db.CurrentDatabase(s.provider)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "database unavailable")
	}
	return database, nil
}

func (s *SQLStore) Create(ctx context.Context, sub model.Submission) error {
	if err := validateSubmission(sub); err != nil {
		return err
	}
	database, err := s.database()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO submissions
		(` + submissionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = database.Exec(ctx, database.Dialect().Rebind(query),
		sub.ID,
		sub.ProblemID,
		sub.UserID,
		sub.Language,
		sub.Code,
		string(sub.Status),
		sub.TestCasesPassed,
		sub.TotalTestCases,
		sub.RuntimeMs,
		sub.MemoryKB,
		sub.ErrorCode,
		sub.ErrorMessage,
		sub.CompileOutput,
		sub.Abandoned,
		sub.Attempts,
		sub.SubmittedAt.UTC(),
		nullTime(sub.FinishedAt),
	)
	if err != nil {
		if key, dup := db.UniqueViolation(err); dup {
			return appErr.Wrapf(err, appErr.RecordAlreadyExists, "submission %s already exists", sub.ID).WithDetail("key", key)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission failed")
	}
	return nil
}

// Update writes the mutable judge fields. Identity and code never change.
func (s *SQLStore) Update(ctx context.Context, sub model.Submission) error {
	database, err := s.database()
	if err != nil {
		return err
	}
	query := `
		UPDATE submissions SET
			status = ?, test_cases_passed = ?, total_test_cases = ?, runtime_ms = ?, memory_kb = ?,
			error_code = ?, error_message = ?, compile_output = ?, abandoned = ?, attempts = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?, ?)
	`
	res, err := database.Exec(ctx, database.Dialect().Rebind(query),
		string(sub.Status),
		sub.TestCasesPassed,
		sub.TotalTestCases,
		sub.RuntimeMs,
		sub.MemoryKB,
		sub.ErrorCode,
		sub.ErrorMessage,
		sub.CompileOutput,
		sub.Abandoned,
		sub.Attempts,
		nullTime(sub.FinishedAt),
		sub.ID,
		string(verdict.StatusQueued), string(verdict.StatusCompiling), string(verdict.StatusRunning),
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Missing, already holding a verdict, or (MySQL) unchanged.
		prev, err := s.Get(ctx, sub.ID)
		if err != nil {
			return err
		}
		if prev.Terminal() {
			return finalized(prev)
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (model.Submission, error) {
	database, err := s.database()
	if err != nil {
		return model.Submission{}, err
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ? LIMIT 1"
	sub, err := scanSubmission(database.QueryRow(ctx, database.Dialect().Rebind(query), id))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Submission{}, notFound(id)
		}
		return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return sub, nil
}

func (s *SQLStore) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Submission, error) {
	database, err := s.database()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE user_id = ? ORDER BY submitted_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := database.Query(ctx, database.Dialect().Rebind(query), userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	defer rows.Close()

	subs := make([]model.Submission, 0, opts.Limit)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission failed")
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submissions failed")
	}
	return subs, nil
}

func (s *SQLStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	database, err := s.database()
	if err != nil {
		return 0, err
	}
	var n int64
	query := database.Dialect().Rebind("SELECT COUNT(*) FROM submissions WHERE user_id = ?")
	if err := database.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "count submissions failed")
	}
	return n, nil
}

func scanSubmission(row db.Row) (model.Submission, error) {
	var (
		sub      model.Submission
		status   string
		finished sql.NullTime
	)
	err := row.Scan(
		&sub.ID,
		&sub.ProblemID,
		&sub.UserID,
		&sub.Language,
		&sub.Code,
		&status,
		&sub.TestCasesPassed,
		&sub.TotalTestCases,
		&sub.RuntimeMs,
		&sub.MemoryKB,
		&sub.ErrorCode,
		&sub.ErrorMessage,
		&sub.CompileOutput,
		&sub.Abandoned,
		&sub.Attempts,
		&sub.SubmittedAt,
		&finished,
	)
	if err != nil {
		return model.Submission{}, err
	}
	sub.Status = verdict.Status(status)
	if finished.Valid {
		t := finished.Time
		sub.FinishedAt = &t
	}
	return sub, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

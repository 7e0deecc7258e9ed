// Package store persists surveys, respondents, sessions and turns in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/agent"
	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/survey"
)

// Store wraps the SQLite database. It implements agent.Catalog and
// agent.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite is single-writer, and a ":memory:" database exists per
	// connection; one pooled connection covers both.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS surveys (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			title_ur TEXT DEFAULT '',
			description TEXT DEFAULT '',
			description_ur TEXT DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY,
			survey_id INTEGER NOT NULL,
			question_order INTEGER NOT NULL,
			text TEXT NOT NULL,
			text_ur TEXT DEFAULT '',
			type TEXT DEFAULT 'text',
			required INTEGER DEFAULT 1,
			choices TEXT DEFAULT '',
			skip_question_id INTEGER DEFAULT 0,
			skip_equals TEXT DEFAULT '',
			help_text TEXT DEFAULT '',
			FOREIGN KEY (survey_id) REFERENCES surveys(id)
		);`,
		`CREATE TABLE IF NOT EXISTS employees (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			name_en TEXT DEFAULT '',
			designation TEXT DEFAULT '',
			branch TEXT DEFAULT '',
			phone TEXT DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			survey_id INTEGER NOT NULL,
			employee_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			reason TEXT DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			question_id INTEGER NOT NULL,
			raw TEXT DEFAULT '',
			value TEXT DEFAULT '',
			confidence REAL DEFAULT 0,
			committed_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Survey loads a survey with its ordered questions.
func (s *Store) Survey(ctx context.Context, id int64) (survey.Survey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, title_ur, description, description_ur FROM surveys WHERE id = ?`, id)
	var sv survey.Survey
	err := row.Scan(&sv.ID, &sv.Title, &sv.TitleUr, &sv.Description, &sv.DescriptionUr)
	if errors.Is(err, sql.ErrNoRows) {
		return survey.Survey{}, fmt.Errorf("survey %d: %w", id, agent.ErrNotFound)
	}
	if err != nil {
		return survey.Survey{}, err
	}
	questions, err := s.questions(ctx, id)
	if err != nil {
		return survey.Survey{}, err
	}
	sv.Questions = questions
	return sv, nil
}

// ListSurveys returns all surveys with their question counts populated.
func (s *Store) ListSurveys(ctx context.Context) ([]survey.Survey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, title_ur, description, description_ur FROM surveys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []survey.Survey
	for rows.Next() {
		var sv survey.Survey
		if err := rows.Scan(&sv.ID, &sv.Title, &sv.TitleUr, &sv.Description, &sv.DescriptionUr); err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		qs, err := s.questions(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Questions = qs
	}
	return out, nil
}

func (s *Store) questions(ctx context.Context, surveyID int64) ([]survey.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, survey_id, question_order, text, text_ur, type, required, choices, skip_question_id, skip_equals, help_text
		 FROM questions WHERE survey_id = ? ORDER BY question_order`, surveyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []survey.Question
	for rows.Next() {
		var q survey.Question
		var required int
		var choices string
		var skipQID int64
		var skipEq string
		if err := rows.Scan(&q.ID, &q.SurveyID, &q.Order, &q.Text, &q.TextUr, &q.Type, &required, &choices, &skipQID, &skipEq, &q.HelpText); err != nil {
			return nil, err
		}
		q.Required = required != 0
		if choices != "" {
			if err := json.Unmarshal([]byte(choices), &q.Choices); err != nil {
				return nil, fmt.Errorf("question %d: bad choices: %w", q.ID, err)
			}
		}
		if skipQID != 0 {
			q.SkipIf = &survey.SkipRule{QuestionID: skipQID, Equals: skipEq}
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Employee loads one respondent.
func (s *Store) Employee(ctx context.Context, id int64) (survey.Employee, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, name_en, designation, branch, phone FROM employees WHERE id = ?`, id)
	var e survey.Employee
	err := row.Scan(&e.ID, &e.Name, &e.NameEn, &e.Designation, &e.Branch, &e.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return survey.Employee{}, fmt.Errorf("employee %d: %w", id, agent.ErrNotFound)
	}
	if err != nil {
		return survey.Employee{}, err
	}
	return e, nil
}

// ListEmployees returns all respondents.
func (s *Store) ListEmployees(ctx context.Context) ([]survey.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, name_en, designation, branch, phone FROM employees ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []survey.Employee
	for rows.Next() {
		var e survey.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.NameEn, &e.Designation, &e.Branch, &e.Phone); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, rec agent.SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, survey_id, employee_id, status, reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SurveyID, rec.EmployeeID, string(rec.Status), rec.Reason,
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix())
	return err
}

// UpdateSessionStatus records a lifecycle transition.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status agent.Status, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, reason = ?, updated_at = ? WHERE id = ?`,
		string(status), reason, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, agent.ErrNotFound)
	}
	return nil
}

// SaveTurn appends one committed turn.
func (s *Store) SaveTurn(ctx context.Context, sessionID string, t agent.Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, question_id, raw, value, confidence, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, t.Seq, t.QuestionID, t.Raw, t.Value, t.Confidence, t.CommittedAt.Unix())
	return err
}

// Turns reads back a session's committed turns in sequence order.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]agent.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, question_id, raw, value, confidence, committed_at FROM turns
		 WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []agent.Turn
	for rows.Next() {
		var t agent.Turn
		var committed int64
		if err := rows.Scan(&t.Seq, &t.QuestionID, &t.Raw, &t.Value, &t.Confidence, &committed); err != nil {
			return nil, err
		}
		t.CommittedAt = time.Unix(committed, 0).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// ActiveSessions loads every non-terminal session with its turns, for
// restart recovery.
func (s *Store) ActiveSessions(ctx context.Context) ([]agent.RestoredSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, survey_id, employee_id, status, reason, created_at, updated_at FROM sessions
		 WHERE status IN (?, ?, ?)`,
		string(agent.StatusCreated), string(agent.StatusInProgress), string(agent.StatusAwaitingResponse))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []agent.RestoredSession
	for rows.Next() {
		var rec agent.SessionRecord
		var status string
		var created, updated int64
		if err := rows.Scan(&rec.ID, &rec.SurveyID, &rec.EmployeeID, &status, &rec.Reason, &created, &updated); err != nil {
			return nil, err
		}
		rec.Status = agent.Status(status)
		rec.CreatedAt = time.Unix(created, 0).UTC()
		rec.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, agent.RestoredSession{Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		turns, err := s.Turns(ctx, out[i].Record.ID)
		if err != nil {
			return nil, err
		}
		out[i].Turns = turns
	}
	return out, nil
}

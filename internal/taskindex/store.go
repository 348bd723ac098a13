package taskindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"paperflow/internal/jobs"
	"paperflow/internal/statestore"
)

const taskColumns = "id, state, error_message, pdf, title, authors, year, tags_json, translate_state, translate_language, has_translation, has_analysis, created_at, updated_at"

// Store is the SQLite catalog of task summaries.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the index database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Upsert inserts or replaces one task summary.
func (s *Store) Upsert(ctx context.Context, summary jobs.Summary) error {
	if strings.TrimSpace(summary.ID) == "" {
		return errors.New("summary id is empty")
	}
	tags := summary.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`, indexed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             state = excluded.state,
             error_message = excluded.error_message,
             pdf = excluded.pdf,
             title = excluded.title,
             authors = excluded.authors,
             year = excluded.year,
             tags_json = excluded.tags_json,
             translate_state = excluded.translate_state,
             translate_language = excluded.translate_language,
             has_translation = excluded.has_translation,
             has_analysis = excluded.has_analysis,
             created_at = excluded.created_at,
             updated_at = excluded.updated_at,
             indexed_at = excluded.indexed_at`,
		summary.ID,
		summary.State,
		nullableString(summary.Error),
		nullableString(summary.PDF),
		nullableString(summary.Title),
		nullableString(summary.Authors),
		nullableString(summary.Year),
		string(tagsJSON),
		nullableString(summary.TranslateState),
		nullableString(summary.TranslateLanguage),
		boolToInt(summary.HasTranslation),
		boolToInt(summary.HasAnalysis),
		nullableString(summary.CreatedAt),
		nullableString(summary.UpdatedAt),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", summary.ID, err)
	}
	return nil
}

// Get returns the summary for id, or nil when it is not indexed.
func (s *Store) Get(ctx context.Context, id string) (*jobs.Summary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return summary, nil
}

// Delete removes id from the index.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	State string
	Tag   string
	// Query matches title, authors, or id as a case-insensitive substring.
	Query string
	Limit int
}

// List returns indexed tasks, newest id first.
func (s *Store) List(ctx context.Context, filter Filter) ([]jobs.Summary, error) {
	var (
		clauses []string
		args    []any
	)
	if state := strings.TrimSpace(filter.State); state != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, state)
	}
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(tasks.tags_json) WHERE lower(json_each.value) = lower(?))")
		args = append(args, tag)
	}
	if query := strings.TrimSpace(filter.Query); query != "" {
		like := "%" + strings.ToLower(query) + "%"
		clauses = append(clauses, "(lower(coalesce(title, '')) LIKE ? OR lower(coalesce(authors, '')) LIKE ? OR lower(id) LIKE ?)")
		args = append(args, like, like, like)
	}
	stmt := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += " ORDER BY id DESC"
	if filter.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []jobs.Summary{}
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *summary)
	}
	return out, rows.Err()
}

// Stats returns a count of indexed tasks grouped by state.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("index stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Rebuild replaces the index contents with a fresh scan of rootDir and
// returns the number of tasks indexed.
func (s *Store) Rebuild(ctx context.Context, store *statestore.Store, rootDir string) (int, error) {
	summaries, err := jobs.ListTasks(store, rootDir, jobs.Filter{})
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}
	for _, summary := range summaries {
		if err := s.Upsert(ctx, summary); err != nil {
			return 0, err
		}
	}
	return len(summaries), nil
}

func scanSummary(scanner interface{ Scan(dest ...any) error }) (*jobs.Summary, error) {
	var (
		id                string
		state             string
		errorMessage      sql.NullString
		pdf               sql.NullString
		title             sql.NullString
		authors           sql.NullString
		year              sql.NullString
		tagsJSON          string
		translateState    sql.NullString
		translateLanguage sql.NullString
		hasTranslation    int
		hasAnalysis       int
		createdAt         sql.NullString
		updatedAt         sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&state,
		&errorMessage,
		&pdf,
		&title,
		&authors,
		&year,
		&tagsJSON,
		&translateState,
		&translateLanguage,
		&hasTranslation,
		&hasAnalysis,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	tags := []string{}
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		tags = []string{}
	}
	return &jobs.Summary{
		ID:                id,
		State:             state,
		Error:             errorMessage.String,
		PDF:               pdf.String,
		Title:             title.String,
		Authors:           authors.String,
		Year:              year.String,
		Tags:              tags,
		TranslateState:    translateState.String,
		TranslateLanguage: translateLanguage.String,
		HasTranslation:    hasTranslation != 0,
		HasAnalysis:       hasAnalysis != 0,
		CreatedAt:         createdAt.String,
		UpdatedAt:         updatedAt.String,
	}, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

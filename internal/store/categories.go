package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/quizbank/internal/model"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicateName is returned when a category name is already taken.
var ErrDuplicateName = errors.New("name already exists")

// category tables share one shape; the table name never comes from user input.
const (
	tableProfessions = "profession_groups"
	tableTestTypes   = "test_types"
)

type category struct {
	id   int64
	name string
}

func (s *Store) listCategory(ctx context.Context, table string) ([]category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM `+table+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []category
	for rows.Next() {
		var c category
		if err := rows.Scan(&c.id, &c.name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) createCategory(ctx context.Context, table, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("empty name")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO `+table+` (name) VALUES (?)`, name)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%q: %w", name, ErrDuplicateName)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ensureCategory returns the ID for name, inserting it when missing.
func ensureCategory(ctx context.Context, db queryer, table, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("empty name")
	}
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+` (name) VALUES (?)`, name); err != nil {
		return 0, err
	}
	var id int64
	err := db.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE name = ?`, name).Scan(&id)
	return id, err
}

// ListProfessions returns all profession groups ordered by name.
func (s *Store) ListProfessions(ctx context.Context) ([]model.ProfessionGroup, error) {
	rows, err := s.listCategory(ctx, tableProfessions)
	if err != nil {
		return nil, fmt.Errorf("list professions: %w", err)
	}
	out := make([]model.ProfessionGroup, len(rows))
	for i, r := range rows {
		out[i] = model.ProfessionGroup{ID: r.id, Name: r.name}
	}
	return out, nil
}

// CreateProfession adds a profession group. Duplicate names yield ErrDuplicateName.
func (s *Store) CreateProfession(ctx context.Context, name string) (int64, error) {
	id, err := s.createCategory(ctx, tableProfessions, name)
	if err != nil {
		return 0, fmt.Errorf("create profession: %w", err)
	}
	return id, nil
}

// EnsureProfession returns the ID of the named profession group, creating it if needed.
func (s *Store) EnsureProfession(ctx context.Context, name string) (int64, error) {
	return ensureCategory(ctx, s.db, tableProfessions, name)
}

// ListTestTypes returns all test types ordered by name.
func (s *Store) ListTestTypes(ctx context.Context) ([]model.TestType, error) {
	rows, err := s.listCategory(ctx, tableTestTypes)
	if err != nil {
		return nil, fmt.Errorf("list test types: %w", err)
	}
	out := make([]model.TestType, len(rows))
	for i, r := range rows {
		out[i] = model.TestType{ID: r.id, Name: r.name}
	}
	return out, nil
}

// CreateTestType adds a test type. Duplicate names yield ErrDuplicateName.
func (s *Store) CreateTestType(ctx context.Context, name string) (int64, error) {
	id, err := s.createCategory(ctx, tableTestTypes, name)
	if err != nil {
		return 0, fmt.Errorf("create test type: %w", err)
	}
	return id, nil
}

// EnsureTestType returns the ID of the named test type, creating it if needed.
func (s *Store) EnsureTestType(ctx context.Context, name string) (int64, error) {
	return ensureCategory(ctx, s.db, tableTestTypes, name)
}

// ImportQuestion stores an imported question in a single transaction,
// creating any category it names that does not exist yet.
func (s *Store) ImportQuestion(ctx context.Context, qi model.QuestionImport) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	q := model.Question{
		Content:   qi.Content,
		ImagePath: qi.ImagePath,
		Answers:   qi.Answers,
		Correct:   qi.Correct,
		Comment:   qi.Comment,
	}
	for _, name := range qi.Professions {
		id, err := ensureCategory(ctx, tx, tableProfessions, name)
		if err != nil {
			return 0, fmt.Errorf("profession %q: %w", name, err)
		}
		q.ProfessionIDs = append(q.ProfessionIDs, id)
	}
	for _, name := range qi.TestTypes {
		id, err := ensureCategory(ctx, tx, tableTestTypes, name)
		if err != nil {
			return 0, fmt.Errorf("test type %q: %w", name, err)
		}
		q.TestTypeIDs = append(q.TestTypeIDs, id)
	}
	id, err := insertQuestion(ctx, tx, q)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

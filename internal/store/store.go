package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/quizbank/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db    *sql.DB
	locks rowLocks
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profession_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS test_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL DEFAULT '',
		image_path TEXT NOT NULL DEFAULT '',
		ans_a TEXT NOT NULL DEFAULT '',
		image_a TEXT NOT NULL DEFAULT '',
		ans_b TEXT NOT NULL DEFAULT '',
		image_b TEXT NOT NULL DEFAULT '',
		ans_c TEXT NOT NULL DEFAULT '',
		image_c TEXT NOT NULL DEFAULT '',
		correct_ans TEXT NOT NULL CHECK (correct_ans IN ('A', 'B', 'C')),
		comment TEXT NOT NULL DEFAULT '',
		total_attempts INTEGER NOT NULL DEFAULT 0,
		correct_attempts INTEGER NOT NULL DEFAULT 0 CHECK (correct_attempts <= total_attempts),
		pass_rate REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS question_professions (
		question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		profession_id INTEGER NOT NULL REFERENCES profession_groups(id) ON DELETE CASCADE,
		PRIMARY KEY (question_id, profession_id)
	);

	CREATE TABLE IF NOT EXISTS question_test_types (
		question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		test_type_id INTEGER NOT NULL REFERENCES test_types(id) ON DELETE CASCADE,
		PRIMARY KEY (question_id, test_type_id)
	);

	CREATE INDEX IF NOT EXISTS idx_question_professions_profession ON question_professions(profession_id);
	CREATE INDEX IF NOT EXISTS idx_question_test_types_type ON question_test_types(test_type_id);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_professions (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		profession_id INTEGER NOT NULL REFERENCES profession_groups(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, profession_id)
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const questionColumns = `q.id, q.content, q.image_path, q.ans_a, q.image_a, q.ans_b, q.image_b,
	q.ans_c, q.image_c, q.correct_ans, q.comment, q.total_attempts, q.correct_attempts, q.pass_rate`

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row scanner) (model.Question, error) {
	var q model.Question
	err := row.Scan(&q.ID, &q.Content, &q.ImagePath,
		&q.Answers[0].Text, &q.Answers[0].ImagePath,
		&q.Answers[1].Text, &q.Answers[1].ImagePath,
		&q.Answers[2].Text, &q.Answers[2].ImagePath,
		&q.Correct, &q.Comment, &q.TotalAttempts, &q.CorrectAttempts, &q.PassRate)
	return q, err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func queryQuestions(ctx context.Context, db queryer, query string, args ...any) ([]model.Question, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// InsertQuestion stores a question with its category associations.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertQuestion(ctx, tx, q)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func insertQuestion(ctx context.Context, tx *sql.Tx, q model.Question) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO questions (content, image_path, ans_a, image_a, ans_b, image_b, ans_c, image_c,
			correct_ans, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Content, q.ImagePath,
		q.Answers[0].Text, q.Answers[0].ImagePath,
		q.Answers[1].Text, q.Answers[1].ImagePath,
		q.Answers[2].Text, q.Answers[2].ImagePath,
		q.Correct, q.Comment, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := setQuestionTags(ctx, tx, id, q.ProfessionIDs, q.TestTypeIDs); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateQuestion replaces the editable fields and tags of a question.
// Statistics counters are left untouched.
func (s *Store) UpdateQuestion(ctx context.Context, q model.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE questions SET content = ?, image_path = ?, ans_a = ?, image_a = ?, ans_b = ?, image_b = ?,
			ans_c = ?, image_c = ?, correct_ans = ?, comment = ?
		 WHERE id = ?`,
		q.Content, q.ImagePath,
		q.Answers[0].Text, q.Answers[0].ImagePath,
		q.Answers[1].Text, q.Answers[1].ImagePath,
		q.Answers[2].Text, q.Answers[2].ImagePath,
		q.Correct, q.Comment, q.ID,
	)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM question_professions WHERE question_id = ?`, q.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM question_test_types WHERE question_id = ?`, q.ID); err != nil {
		return err
	}
	if err := setQuestionTags(ctx, tx, q.ID, q.ProfessionIDs, q.TestTypeIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func setQuestionTags(ctx context.Context, tx *sql.Tx, id int64, professionIDs, testTypeIDs []int64) error {
	for _, pid := range professionIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO question_professions (question_id, profession_id) VALUES (?, ?)`, id, pid,
		); err != nil {
			return fmt.Errorf("tag profession %d: %w", pid, err)
		}
	}
	for _, tid := range testTypeIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO question_test_types (question_id, test_type_id) VALUES (?, ?)`, id, tid,
		); err != nil {
			return fmt.Errorf("tag test type %d: %w", tid, err)
		}
	}
	return nil
}

// DeleteQuestion removes a question; associations cascade.
func (s *Store) DeleteQuestion(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetQuestion returns a question by ID with its tags loaded.
func (s *Store) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions q WHERE q.id = ?`, id))
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	if err != nil {
		return q, err
	}
	qs := []model.Question{q}
	if err := s.loadTags(ctx, qs); err != nil {
		return q, err
	}
	return qs[0], nil
}

// ListQuestions returns all questions with their tags, ordered by ID.
func (s *Store) ListQuestions(ctx context.Context) ([]model.Question, error) {
	qs, err := queryQuestions(ctx, s.db, `SELECT `+questionColumns+` FROM questions q ORDER BY q.id`)
	if err != nil {
		return nil, err
	}
	return qs, s.loadTags(ctx, qs)
}

// loadTags fills ProfessionIDs and TestTypeIDs. It must not run while
// another result set is open: in-memory stores have a single connection.
func (s *Store) loadTags(ctx context.Context, qs []model.Question) error {
	if len(qs) == 0 {
		return nil
	}
	idx := make(map[int64]int, len(qs))
	for i, q := range qs {
		idx[q.ID] = i
	}
	load := func(query string, add func(i int, tag int64)) error {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var qid, tag int64
			if err := rows.Scan(&qid, &tag); err != nil {
				return err
			}
			if i, ok := idx[qid]; ok {
				add(i, tag)
			}
		}
		return rows.Err()
	}
	if err := load(`SELECT question_id, profession_id FROM question_professions ORDER BY profession_id`,
		func(i int, tag int64) { qs[i].ProfessionIDs = append(qs[i].ProfessionIDs, tag) }); err != nil {
		return fmt.Errorf("load professions: %w", err)
	}
	if err := load(`SELECT question_id, test_type_id FROM question_test_types ORDER BY test_type_id`,
		func(i int, tag int64) { qs[i].TestTypeIDs = append(qs[i].TestTypeIDs, tag) }); err != nil {
		return fmt.Errorf("load test types: %w", err)
	}
	return nil
}

// FetchByProfessionAndTopic returns the questions tagged with the profession
// and the given topic. An empty result is not an error.
func (s *Store) FetchByProfessionAndTopic(ctx context.Context, professionID, topicID int64) ([]model.Question, error) {
	return s.FetchByProfessionAndAllTopics(ctx, professionID, []int64{topicID})
}

// FetchByProfessionAndAllTopics returns the questions tagged with the
// profession and with every one of the topics. The read runs in its own
// short transaction.
func (s *Store) FetchByProfessionAndAllTopics(ctx context.Context, professionID int64, topicIDs []int64) ([]model.Question, error) {
	if len(topicIDs) == 0 {
		return nil, fmt.Errorf("fetch pool: no topics given")
	}
	seen := make(map[int64]bool, len(topicIDs))
	args := []any{professionID}
	var placeholders []string
	for _, id := range topicIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	args = append(args, len(placeholders))

	query := `SELECT ` + questionColumns + ` FROM questions q
		WHERE EXISTS (
			SELECT 1 FROM question_professions qp
			WHERE qp.question_id = q.id AND qp.profession_id = ?
		)
		AND (
			SELECT COUNT(*) FROM question_test_types qt
			WHERE qt.question_id = q.id AND qt.test_type_id IN (` + strings.Join(placeholders, ", ") + `)
		) = ?`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pool read: %w", err)
	}
	defer tx.Rollback()

	qs, err := queryQuestions(ctx, tx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch pool: %w", err)
	}
	return qs, tx.Commit()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

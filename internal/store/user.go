package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/quizbank/internal/model"
)

const userColumns = `id, username, display_name, password_hash, role, active, created_at`

// CreateUser inserts a new user together with their profession assignments.
func (s *Store) CreateUser(u model.User) (int64, error) {
	if !u.Role.Valid() {
		return 0, fmt.Errorf("create user: invalid role %q", u.Role)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO users (username, display_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Active, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, pid := range u.ProfessionIDs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO user_professions (user_id, profession_id) VALUES (?, ?)`, id, pid,
		); err != nil {
			return 0, fmt.Errorf("assign profession %d: %w", pid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role, "professions", len(u.ProfessionIDs))
	return id, nil
}

// SetUserProfessions replaces the professions a user may sit exams for.
func (s *Store) SetUserProfessions(userID int64, professionIDs []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM user_professions WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for _, pid := range professionIDs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO user_professions (user_id, profession_id) VALUES (?, ?)`, userID, pid,
		); err != nil {
			return fmt.Errorf("assign profession %d: %w", pid, err)
		}
	}
	return tx.Commit()
}

func (s *Store) getUser(where string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE `+where+` = ?`, arg).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.ProfessionIDs, err = s.userProfessions(u.ID); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) userProfessions(userID int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT profession_id FROM user_professions WHERE user_id = ? ORDER BY profession_id`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetUserByUsername returns a user by username, or nil if there is none.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	return s.getUser("username", username)
}

// GetUserByID returns a user by ID, or nil if there is none.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	return s.getUser("id", id)
}

// ListUsers returns all users with their profession assignments.
func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ProfessionIDs, err = s.userProfessions(users[i].ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// ToggleUserActive flips the active flag on a user.
func (s *Store) ToggleUserActive(id int64) error {
	_, err := s.db.Exec(`UPDATE users SET active = NOT active WHERE id = ?`, id)
	return err
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

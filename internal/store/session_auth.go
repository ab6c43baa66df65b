package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/pavelanni/quizbank/internal/model"
)

// AuthSessionTTL is how long a login stays valid.
const AuthSessionTTL = 12 * time.Hour

// CreateAuthSession creates a new login token for a user.
func (s *Store) CreateAuthSession(userID int64) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	now := time.Now()
	if _, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(AuthSessionTTL),
	); err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession returns the session for the token, or nil if it is unknown
// or expired. Expired rows are removed on sight.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := s.db.QueryRow(
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(token)
		return nil, nil
	}
	return &sess, nil
}

// SessionUser resolves a login token to an active user, or nil.
func (s *Store) SessionUser(token string) (*model.User, error) {
	sess, err := s.GetAuthSession(token)
	if err != nil || sess == nil {
		return nil, err
	}
	u, err := s.GetUserByID(sess.UserID)
	if err != nil || u == nil {
		return nil, err
	}
	if !u.Active {
		return nil, nil
	}
	return u, nil
}

// DeleteAuthSession removes a login token.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// DeleteUserSessions logs a user out everywhere.
func (s *Store) DeleteUserSessions(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE user_id = ?`, userID)
	return err
}

// CleanupExpiredSessions removes expired logins and reports how many were dropped.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

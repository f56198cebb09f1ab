package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"exchange/internal/fault"
)

var ErrSessionNotFound = fault.NewBusiness("session not found or expired")

// Session maps a bearer token to a user until ExpiresAt.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	_, err := s.exec(ctx,
		"INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		sess.Token, sess.UserID, sess.ExpiresAt.UTC(),
	)
	return err
}

// Session looks token up. Expired rows read as missing and are removed.
func (s *Store) Session(ctx context.Context, token string) (Session, error) {
	var sess Session
	err := s.queryRow(ctx,
		"SELECT token, user_id, expires_at FROM sessions WHERE token = ?", token,
	).Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if !time.Now().Before(sess.ExpiresAt) {
		if err := s.DeleteSession(ctx, token); err != nil {
			return Session{}, err
		}
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.exec(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// PurgeSessions deletes sessions that expired before now and returns how
// many went.
func (s *Store) PurgeSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM sessions WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"exchange/internal/fault"
)

var (
	ErrUserExists = fault.NewBusiness("username already exists")
	// ErrBadCredentials covers both an unknown name and a wrong password.
	ErrBadCredentials = fault.NewBusiness("invalid username or password")
)

// User is an account. Balances, orders and transfers are keyed by its ID.
type User struct {
	ID           string
	Username     string
	PasswordHash string
}

// Register creates an account holding a bcrypt hash of password.
func (s *Store) Register(ctx context.Context, username, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{ID: uuid.NewString(), Username: username, PasswordHash: string(hash)}

	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var taken int
	if err := tx.queryRow(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&taken); err != nil {
		return nil, err
	}
	if taken > 0 {
		return nil, ErrUserExists
	}
	if _, err := tx.exec(ctx,
		"INSERT INTO users (id, username, password_hash) VALUES (?, ?, ?)",
		u.ID, u.Username, u.PasswordHash,
	); err != nil {
		return nil, err
	}
	return u, tx.Commit()
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u := &User{}
	err := s.queryRow(ctx,
		"SELECT id, username, password_hash FROM users WHERE username = ?", username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return u, nil
}

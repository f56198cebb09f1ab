package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"exchange/internal/store"
)

const sessionTTL = 24 * time.Hour

// SessionStore caches sessions in front of the database. Tokens are only
// ever created or deleted here, so the cache never holds a revoked one.
type SessionStore struct {
	store  *store.Store
	log    *zap.Logger
	mu     sync.RWMutex
	cache  map[string]store.Session
	stopCh chan struct{}
	once   sync.Once
}

func NewSessionStore(s *store.Store, log *zap.Logger) *SessionStore {
	ss := &SessionStore{
		store:  s,
		log:    log,
		cache:  make(map[string]store.Session),
		stopCh: make(chan struct{}),
	}
	go ss.cleanupLoop()
	return ss
}

func (ss *SessionStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.purge(time.Now())
		case <-ss.stopCh:
			return
		}
	}
}

func (ss *SessionStore) purge(now time.Time) {
	ss.mu.Lock()
	for token, sess := range ss.cache {
		if !now.Before(sess.ExpiresAt) {
			delete(ss.cache, token)
		}
	}
	ss.mu.Unlock()

	n, err := ss.store.PurgeSessions(context.Background(), now)
	if err != nil {
		ss.log.Warn("session purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		ss.log.Debug("expired sessions purged", zap.Int64("count", n))
	}
}

func (ss *SessionStore) Stop() {
	ss.once.Do(func() { close(ss.stopCh) })
}

func (ss *SessionStore) Create(ctx context.Context, userID string) (store.Session, error) {
	token, err := generateToken()
	if err != nil {
		return store.Session{}, err
	}
	sess := store.Session{Token: token, UserID: userID, ExpiresAt: time.Now().Add(sessionTTL)}
	if err := ss.store.SaveSession(ctx, sess); err != nil {
		return store.Session{}, err
	}

	ss.mu.Lock()
	ss.cache[token] = sess
	ss.mu.Unlock()
	return sess, nil
}

// Get returns the live session for token. Lookup errors other than a
// missing token are logged and treated as unauthenticated.
func (ss *SessionStore) Get(ctx context.Context, token string) (store.Session, bool) {
	if token == "" {
		return store.Session{}, false
	}

	ss.mu.RLock()
	sess, ok := ss.cache[token]
	ss.mu.RUnlock()
	if ok && time.Now().Before(sess.ExpiresAt) {
		return sess, true
	}

	sess, err := ss.store.Session(ctx, token)
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			ss.log.Warn("session lookup failed", zap.Error(err))
		}
		return store.Session{}, false
	}
	ss.mu.Lock()
	ss.cache[token] = sess
	ss.mu.Unlock()
	return sess, true
}

func (ss *SessionStore) Delete(ctx context.Context, token string) {
	ss.mu.Lock()
	delete(ss.cache, token)
	ss.mu.Unlock()
	if err := ss.store.DeleteSession(ctx, token); err != nil {
		ss.log.Warn("session delete failed", zap.Error(err))
	}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 32 {
		http.Error(w, "username must be 3-32 characters", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 6 {
		http.Error(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	user, err := s.store.Register(r.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrUserExists) {
		http.Error(w, "username already taken", http.StatusConflict)
		return
	}
	if err != nil {
		s.log.Error("create user failed", zap.Error(err))
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	s.startSession(w, r, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := s.store.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrBadCredentials) {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.log.Error("authenticate failed", zap.Error(err))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	s.startSession(w, r, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if session, ok := s.getSession(r); ok {
		s.sessions.Delete(r.Context(), session.Token)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *store.User) {
	session, err := s.sessions.Create(r.Context(), user.ID)
	if err != nil {
		s.log.Error("create session failed", zap.Error(err))
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		Token:    session.Token,
		UserID:   user.ID,
		Username: user.Username,
	})
}

func (s *Server) getSession(r *http.Request) (store.Session, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return store.Session{}, false
	}
	return s.sessions.Get(r.Context(), token)
}

// requireUser returns the caller's user id, or writes 401 and returns "".
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) string {
	session, ok := s.getSession(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return ""
	}
	return session.UserID
}

package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	sessionCookieName = "face_registry_session"
	sessionDuration   = 24 * time.Hour
	cleanupInterval   = 1 * time.Hour
	repoTimeout       = 5 * time.Second
)

// Session is an authenticated browser session. It proxies the PhotoPrism
// tokens obtained at login so handlers can talk to PhotoPrism on the
// user's behalf.
type Session struct {
	ID            string
	Token         string // PhotoPrism access token
	DownloadToken string // PhotoPrism download token
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// StoredSession is the persisted form of a session, as read from the
// sessions table.
type StoredSession struct {
	ID            string
	Token         string
	DownloadToken string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// SessionRepository persists sessions so they survive server restarts.
type SessionRepository interface {
	Save(ctx context.Context, id, token, downloadToken string, createdAt, expiresAt time.Time) error
	Get(ctx context.Context, sessionID string) (*StoredSession, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionManager handles session creation and validation. Sessions live in
// an in-memory map; when a repository is provided they are also written
// through to it and restored from it after a restart.
type SessionManager struct {
	secret   []byte
	repo     SessionRepository
	sessions map[string]*Session
	mu       sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a new session manager. repo may be nil, in
// which case sessions are memory-only and vanish on restart.
func NewSessionManager(secret string, repo SessionRepository) *SessionManager {
	// Use a default secret if none provided (for development)
	if secret == "" {
		secret = "face-registry-dev-secret-change-in-production"
	}
	sm := &SessionManager{
		secret:   []byte(secret),
		repo:     repo,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	if repo != nil {
		go sm.cleanupLoop()
	}
	return sm
}

// Stop terminates the background cleanup goroutine.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopCh)
	})
}

// repoContext returns a short-lived context for repository calls. Session
// persistence must not hang on a slow database.
func repoContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), repoTimeout)
}

// cleanupLoop periodically removes expired sessions from the repository
// and the in-memory map.
func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := repoContext()
			if _, err := sm.repo.DeleteExpired(ctx); err != nil {
				log.Printf("WARNING: could not delete expired sessions: %v", err)
			}
			cancel()

			now := time.Now()
			sm.mu.Lock()
			for id, s := range sm.sessions {
				if now.After(s.ExpiresAt) {
					delete(sm.sessions, id)
				}
			}
			sm.mu.Unlock()
		}
	}
}

// CreateSession creates a new session holding the given PhotoPrism tokens.
func (sm *SessionManager) CreateSession(token, downloadToken string) (*Session, error) {
	idBytes := make([]byte, 32)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, err
	}
	sessionID := base64.URLEncoding.EncodeToString(idBytes)

	session := &Session{
		ID:            sessionID,
		Token:         token,
		DownloadToken: downloadToken,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(sessionDuration),
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	if sm.repo != nil {
		ctx, cancel := repoContext()
		defer cancel()
		if err := sm.repo.Save(ctx, session.ID, session.Token, session.DownloadToken, session.CreatedAt, session.ExpiresAt); err != nil {
			// The session still works from memory, it just won't survive a restart.
			log.Printf("WARNING: could not persist session: %v", err)
		}
	}

	return session, nil
}

// GetSession retrieves a session by ID, consulting the repository when the
// session is not cached in memory (e.g. after a restart).
func (sm *SessionManager) GetSession(sessionID string) *Session {
	sm.mu.RLock()
	session, ok := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if ok {
		if time.Now().After(session.ExpiresAt) {
			go sm.DeleteSession(sessionID)
			return nil
		}
		return session
	}

	if sm.repo == nil {
		return nil
	}

	ctx, cancel := repoContext()
	defer cancel()
	stored, err := sm.repo.Get(ctx, sessionID)
	if err != nil {
		log.Printf("WARNING: could not load session: %v", err)
		return nil
	}
	if stored == nil {
		return nil
	}

	session = &Session{
		ID:            stored.ID,
		Token:         stored.Token,
		DownloadToken: stored.DownloadToken,
		CreatedAt:     stored.CreatedAt,
		ExpiresAt:     stored.ExpiresAt,
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	return session
}

// DeleteSession removes a session from memory and the repository.
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if sm.repo != nil {
		ctx, cancel := repoContext()
		defer cancel()
		if err := sm.repo.Delete(ctx, sessionID); err != nil {
			log.Printf("WARNING: could not delete session: %v", err)
		}
	}
}

// SetSessionCookie sets the session cookie on the response.
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, r *http.Request, session *Session) {
	// Sign the session ID
	signature := sm.signData(session.ID)
	cookieValue := session.ID + "." + signature

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    cookieValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})
}

// ClearSessionCookie removes the session cookie.
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts the session from a request. It accepts the
// signed session cookie or a bearer token carrying the raw session ID.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	// Try cookie first
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		parts := strings.SplitN(cookie.Value, ".", 2)
		if len(parts) == 2 {
			sessionID := parts[0]
			signature := parts[1]
			if sm.verifySignature(sessionID, signature) {
				if session := sm.GetSession(sessionID); session != nil {
					return session
				}
			}
		}
	}

	// Try Authorization header
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		sessionID := strings.TrimPrefix(authHeader, "Bearer ")
		if session := sm.GetSession(sessionID); session != nil {
			return session
		}
	}

	return nil
}

// signData creates an HMAC signature for data
func (sm *SessionManager) signData(data string) string {
	h := hmac.New(sha256.New, sm.secret)
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// verifySignature verifies an HMAC signature
func (sm *SessionManager) verifySignature(data, signature string) bool {
	expected := sm.signData(data)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SessionData is a helper struct for JSON responses
type SessionData struct {
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

// ToJSON returns the session data for JSON response
func (s *Session) ToJSON() SessionData {
	return SessionData{
		SessionID: s.ID,
		ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
	}
}

// MarshalJSON implements json.Marshaler (excludes sensitive fields)
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToJSON())
}

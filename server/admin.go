package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminSubject     = "admin"
	adminTokenExpiry = 24 * time.Hour
	authRateWindow   = 60 * time.Second
	maxAuthFailures  = 10
	statusTimeout    = 2 * time.Second
	bcryptCost       = 12
	maxLoginBody     = 1 << 10
	topScoreLimit    = 10
	recentLimit      = 20
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
	errBadPassword  = errors.New("wrong admin password")
)

// messageCounter is implemented by stores that can count what they hold
type messageCounter interface {
	MessageCount(ctx context.Context) (int, error)
}

// scoreReader is implemented by stores that keep the game event log
type scoreReader interface {
	TopScores(ctx context.Context, limit int) ([]ScoreRow, error)
}

type recentReader interface {
	RecentMessages(ctx context.Context, limit int) ([]MessageRow, error)
}

// Admin serves the operator endpoints. With no secret configured they are
// open.
type Admin struct {
	hub          *Hub
	store        MessageStore
	jwtSecret    []byte
	passwordHash []byte
	log          *zap.Logger

	// Failed token checks per IP
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAdmin creates the admin endpoints for hub
func NewAdmin(hub *Hub, store MessageStore, cfg AdminConfig, log *zap.Logger) *Admin {
	a := &Admin{
		hub:     hub,
		store:   store,
		log:     log,
		rateMap: make(map[string]*rateEntry),
	}
	if cfg.JWTSecret != "" {
		a.jwtSecret = []byte(cfg.JWTSecret)
	}
	if cfg.PasswordHash != "" {
		a.passwordHash = []byte(cfg.PasswordHash)
	}
	return a
}

// HashAdminPassword returns the bcrypt hash for admin.password_hash
func HashAdminPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Login checks the admin password and returns a fresh token
func (a *Admin) Login(password string) (string, error) {
	if a.passwordHash == nil || a.jwtSecret == nil {
		return "", errors.New("admin login disabled")
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", errBadPassword
	}
	return a.GenerateToken(adminTokenExpiry)
}

// GenerateToken signs an admin token valid for ttl
func (a *Admin) GenerateToken(ttl time.Duration) (string, error) {
	if a.jwtSecret == nil {
		return "", errors.New("no admin secret configured")
	}
	if ttl <= 0 {
		ttl = adminTokenExpiry
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": adminSubject,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateToken checks an HS256 token carrying sub=admin
func (a *Admin) ValidateToken(tokenStr string) error {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub != adminSubject {
		return errInvalidToken
	}
	return nil
}

// authorize reports whether r may see admin data
func (a *Admin) authorize(r *http.Request) error {
	if a.jwtSecret == nil {
		return nil
	}
	header := r.Header.Get("Authorization")
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenStr == "" {
		return errMissingToken
	}
	return a.ValidateToken(strings.TrimSpace(tokenStr))
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// TokenHandler exchanges the admin password for a bearer token. Failed
// attempts count against the same per-IP budget as /status.
func (a *Admin) TokenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if a.passwordHash == nil {
			http.NotFound(w, r)
			return
		}
		ip := extractIP(r)
		if a.limited(ip) {
			http.Error(w, "too many attempts", http.StatusTooManyRequests)
			return
		}

		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		token, err := a.Login(req.Password)
		if err != nil {
			a.recordFailure(ip)
			a.log.Info("admin login rejected", zap.String("addr", ip), zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(loginResponse{Token: token, ExpiresIn: int64(adminTokenExpiry / time.Second)})
	})
}

type statusDoc struct {
	Status
	StoredMessages *int         `json:"stored_messages,omitempty"`
	RecentMessages []MessageRow `json:"recent_messages,omitempty"`
	TopScores      []ScoreRow   `json:"top_scores,omitempty"`
}

// StatusHandler serves the hub status document
func (a *Admin) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if a.limited(ip) {
			http.Error(w, "too many attempts", http.StatusTooManyRequests)
			return
		}
		if err := a.authorize(r); err != nil {
			a.recordFailure(ip)
			a.log.Info("status request rejected", zap.String("addr", ip), zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="status"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
		defer cancel()

		st, err := a.hub.Status(ctx)
		if err != nil {
			http.Error(w, "status unavailable", http.StatusServiceUnavailable)
			return
		}
		doc := statusDoc{Status: st}
		if mc, ok := a.store.(messageCounter); ok {
			if n, err := mc.MessageCount(ctx); err == nil {
				doc.StoredMessages = &n
			} else {
				a.log.Warn("count stored messages", zap.Error(err))
			}
		}
		if rr, ok := a.store.(recentReader); ok {
			if msgs, err := rr.RecentMessages(ctx, recentLimit); err == nil {
				doc.RecentMessages = msgs
			} else {
				a.log.Warn("read recent messages", zap.Error(err))
			}
		}
		if sr, ok := a.store.(scoreReader); ok {
			if scores, err := sr.TopScores(ctx, topScoreLimit); err == nil {
				doc.TopScores = scores
			} else {
				a.log.Warn("read top scores", zap.Error(err))
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(doc)
	})
}

func (a *Admin) limited(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()
	entry, ok := a.rateMap[ip]
	if !ok || time.Now().After(entry.ResetAt) {
		return false
	}
	return entry.Count >= maxAuthFailures
}

func (a *Admin) recordFailure(ip string) {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(authRateWindow)}
		return
	}
	entry.Count++
}

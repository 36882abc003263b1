// Package auth provides JWT-based authentication with optional TOTP and OIDC.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/pkg/protocol"
)

const (
	tokenIssuer = "filecove"
	tokenTTL    = 30 * 24 * time.Hour
)

type contextKey string

const userContextKey contextKey = "user"

// Claims holds JWT token claims.
type Claims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Auth handles token issuance, validation and revocation.
type Auth struct {
	db     *sql.DB
	secret []byte
	oidc   *OIDCProvider
}

// New creates a new Auth handler.
func New(db *sql.DB, jwtSecret string) *Auth {
	return &Auth{
		db:     db,
		secret: []byte(jwtSecret),
	}
}

// Middleware returns HTTP middleware that validates Bearer tokens. Local
// JWTs are tried first; when an OIDC provider is configured, tokens that
// fail local validation are verified as OIDC ID tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.validateToken(tokenStr)
		if err == nil {
			revoked, rerr := a.isTokenRevoked(r.Context(), tokenStr)
			if rerr != nil {
				logging.Error("token revocation check failed", zap.Error(rerr))
			}
			if revoked {
				metrics.RecordAuthAttempt(false)
				sendAuthError(w, http.StatusUnauthorized, "token has been revoked")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
			return
		}

		if a.oidc != nil {
			claims, oerr := a.oidc.ValidateToken(r.Context(), tokenStr)
			if oerr == nil {
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
				return
			}
		}

		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
	})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// WithClaims injects claims into a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// HandleRegister handles POST /api/v1/auth/register
func (a *Auth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	if err := a.CreateUser(r.Context(), req.Username, req.Password, false); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			sendAuthError(w, http.StatusConflict, "username already taken")
			return
		}
		logging.Error("register failed", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"username": req.Username})
}

// HandleLogin handles POST /api/v1/auth/token
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		TOTPCode   string `json:"totp_code"`
		DeviceName string `json:"device_name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	var userID int
	var hashedPassword string
	var isAdmin bool
	err := a.db.QueryRowContext(r.Context(),
		`SELECT id, password, is_admin FROM users WHERE username = $1`,
		req.Username).Scan(&userID, &hashedPassword, &isAdmin)
	if err == sql.ErrNoRows {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: unknown user", zap.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Error("login database error", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "database error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: invalid password", zap.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	// Accounts with two-factor enabled must supply a code with the login.
	totpEnabled, _ := a.IsTOTPEnabled(r.Context(), userID)
	if totpEnabled {
		if req.TOTPCode == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "totp_required")
			return
		}
		if err := a.ValidateTOTP(r.Context(), userID, req.TOTPCode); err != nil {
			metrics.RecordAuthAttempt(false)
			logging.Warn("login failed: invalid TOTP code", zap.String("username", req.Username))
			sendAuthError(w, http.StatusUnauthorized, "invalid TOTP code")
			return
		}
	}

	tokenStr, expiresAt, err := a.IssueToken(userID, req.Username, isAdmin)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Error("failed to sign token", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	deviceName := req.DeviceName
	if deviceName == "" {
		deviceName = "unknown"
	}

	metrics.RecordAuthAttempt(true)
	logging.Info("login successful",
		zap.String("username", req.Username),
		zap.String("device", deviceName))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":      tokenStr,
		"expires_at": expiresAt,
		"user": map[string]interface{}{
			"id":       userID,
			"username": req.Username,
			"is_admin": isAdmin,
		},
	})
}

// HandleRefresh handles POST /api/v1/auth/refresh. The presented token must
// still be valid; a fresh one is issued without revoking the old.
func (a *Auth) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	tokenStr := extractToken(r)
	if tokenStr == "" {
		sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	newToken, expiresAt, err := a.RefreshToken(r.Context(), tokenStr)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusUnauthorized, err.Error())
		return
	}

	metrics.RecordAuthAttempt(true)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":      newToken,
		"expires_at": expiresAt,
	})
}

// HandleLogout handles DELETE /api/v1/auth/token
func (a *Auth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	tokenStr := extractToken(r)
	if tokenStr == "" {
		sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}

	if _, err := a.validateToken(tokenStr); err != nil {
		sendAuthError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	if err := a.RevokeToken(r.Context(), tokenStr); err != nil {
		logging.Error("logout revocation failed", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateUser creates a new user with a bcrypt-hashed password.
func (a *Auth) CreateUser(ctx context.Context, username, password string, isAdmin bool) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO users (username, password, is_admin) VALUES ($1, $2, $3)`,
		username, string(hashed), isAdmin)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	logging.Info("user created", zap.String("username", username), zap.Bool("is_admin", isAdmin))
	return nil
}

// EnsureDefaultAdmin creates a default admin user if no users exist.
func (a *Auth) EnsureDefaultAdmin(ctx context.Context) error {
	var count int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}

	if count == 0 {
		logging.Warn("no users found, creating default admin (admin/admin)")
		logging.Warn("** change the default password immediately! **")
		return a.CreateUser(ctx, "admin", "admin", true)
	}
	return nil
}

// IssueToken signs a 30-day JWT for the user.
func (a *Auth) IssueToken(userID int, username string, isAdmin bool) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, claims.ExpiresAt.Time, nil
}

// RefreshToken issues a new token from a valid, non-revoked existing one.
func (a *Auth) RefreshToken(ctx context.Context, oldTokenStr string) (string, time.Time, error) {
	claims, err := a.validateToken(oldTokenStr)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid token: %w", err)
	}

	revoked, err := a.isTokenRevoked(ctx, oldTokenStr)
	if err != nil {
		return "", time.Time{}, err
	}
	if revoked {
		return "", time.Time{}, fmt.Errorf("token has been revoked")
	}

	// Re-verify the user still exists and pick up admin changes.
	var isAdmin bool
	err = a.db.QueryRowContext(ctx,
		`SELECT is_admin FROM users WHERE id = $1`, claims.UserID).Scan(&isAdmin)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("user not found")
	}

	newTokenStr, expiresAt, err := a.IssueToken(claims.UserID, claims.Username, isAdmin)
	if err != nil {
		return "", time.Time{}, err
	}

	logging.Info("token refreshed", zap.Int("user_id", claims.UserID))
	return newTokenStr, expiresAt, nil
}

// RevokeToken records the token hash in the revocation table.
func (a *Auth) RevokeToken(ctx context.Context, tokenStr string) error {
	h := hashToken(tokenStr)
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_hash) VALUES ($1) ON CONFLICT (token_hash) DO NOTHING`, h)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	a.updateRevokedTokenCount(ctx)
	return nil
}

// PruneRevokedTokens removes revocation entries older than the token
// lifetime; the tokens they block have expired on their own.
func (a *Auth) PruneRevokedTokens(ctx context.Context) (int64, error) {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE revoked_at < NOW() - INTERVAL '31 days'`)
	if err != nil {
		return 0, fmt.Errorf("prune revoked tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		logging.Info("pruned revoked tokens", zap.Int64("count", n))
		a.updateRevokedTokenCount(ctx)
	}
	return n, nil
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})

	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func (a *Auth) isTokenRevoked(ctx context.Context, tokenStr string) (bool, error) {
	h := hashToken(tokenStr)
	var revoked bool
	err := a.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash = $1)`, h).Scan(&revoked)
	if err != nil {
		return false, err
	}
	return revoked, nil
}

func (a *Auth) updateRevokedTokenCount(ctx context.Context) {
	var count int64
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revoked_tokens`).Scan(&count)
	if err == nil {
		metrics.SetRevokedTokens(count)
	}
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback
	return r.URL.Query().Get("token")
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// User represents a user account.
type User struct {
	ID        int       `json:"id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// HasOIDC returns true if an OIDC provider is configured.
func (a *Auth) HasOIDC() bool {
	return a.oidc != nil
}

// OIDCConfig returns the OIDC configuration, or nil if OIDC is not configured.
func (a *Auth) OIDCConfig() *OIDCConfig {
	if a.oidc == nil {
		return nil
	}
	cfg := a.oidc.config
	return &cfg
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

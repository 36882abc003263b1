package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/auth"
	"github.com/filecove/filecove/internal/logging"
)

// handleTOTPStatus handles GET /api/v1/auth/totp/status.
func (s *Server) handleTOTPStatus(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	enabled, err := s.auth.IsTOTPEnabled(r.Context(), claims.UserID)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to check TOTP status")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"enabled": enabled,
	})
}

// handleTOTPSetup handles POST /api/v1/auth/totp/setup. Returns the secret
// and otpauth URL; enforcement stays off until a code is verified.
func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	result, err := s.auth.GenerateTOTPSetup(r.Context(), claims.UserID, claims.Username)
	if err != nil {
		logging.Error("TOTP setup failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to generate TOTP setup")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleTOTPEnable handles POST /api/v1/auth/totp/enable. Verifies a code
// against the secret from setup and turns enforcement on.
func (s *Server) handleTOTPEnable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		s.sendError(w, http.StatusBadRequest, "code required")
		return
	}

	backupCodes, err := s.auth.EnableTOTP(r.Context(), claims.UserID, req.Code)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"enabled":      true,
		"backup_codes": backupCodes,
	})
}

// handleTOTPDisable handles DELETE /api/v1/auth/totp. Requires the account
// password and a current code.
func (s *Server) handleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" || req.Code == "" {
		s.sendError(w, http.StatusBadRequest, "password and code required")
		return
	}

	if err := s.auth.DisableTOTP(r.Context(), claims.UserID, req.Password, req.Code); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"enabled": false,
	})
}

// handleTOTPBackup handles POST /api/v1/auth/totp/backup. Replaces any
// existing backup codes.
func (s *Server) handleTOTPBackup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	codes, err := s.auth.RegenerateBackupCodes(r.Context(), claims.UserID)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to regenerate backup codes")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"backup_codes": codes,
	})
}

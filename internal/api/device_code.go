package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// The device-code flow is proxied through the server so terminal clients
// never talk to the identity provider directly and need no client secret.

// handleDeviceCodeInit handles POST /api/v1/auth/device-code.
func (s *Server) handleDeviceCodeInit(w http.ResponseWriter, r *http.Request) {
	oidcCfg := s.auth.OIDCConfig()
	if oidcCfg == nil || oidcCfg.DeviceAuthEndpoint == "" {
		s.sendError(w, http.StatusNotImplemented, "OIDC device code flow not configured")
		return
	}

	data := url.Values{
		"client_id": {oidcCfg.ClientID},
		"scope":     {"openid profile email"},
	}
	if oidcCfg.ClientSecret != "" {
		data.Set("client_secret", oidcCfg.ClientSecret)
	}

	s.proxyForm(w, oidcCfg.DeviceAuthEndpoint, data)
}

// handleDeviceCodePoll handles POST /api/v1/auth/device-token.
func (s *Server) handleDeviceCodePoll(w http.ResponseWriter, r *http.Request) {
	oidcCfg := s.auth.OIDCConfig()
	if oidcCfg == nil || oidcCfg.TokenEndpoint == "" {
		s.sendError(w, http.StatusNotImplemented, "OIDC device code flow not configured")
		return
	}

	var req struct {
		DeviceCode string `json:"device_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	data := url.Values{
		"client_id":   {oidcCfg.ClientID},
		"device_code": {req.DeviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	if oidcCfg.ClientSecret != "" {
		data.Set("client_secret", oidcCfg.ClientSecret)
	}

	s.proxyForm(w, oidcCfg.TokenEndpoint, data)
}

// proxyForm posts url-encoded form data to the provider and relays the
// response, status code included, so OAuth error payloads like
// authorization_pending pass through untouched.
func (s *Server) proxyForm(w http.ResponseWriter, endpoint string, data url.Values) {
	resp, err := http.Post(endpoint, "application/x-www-form-urlencoded", strings.NewReader(data.Encode()))
	if err != nil {
		s.sendError(w, http.StatusBadGateway, "failed to contact OIDC provider: "+err.Error())
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

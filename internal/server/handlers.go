// ABOUTME: HTTP handlers for the passkey ceremony and credential endpoints
// ABOUTME: JSON in, JSON out; binary fields travel as unpadded base64url

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/passkey-auth/internal/authn"
	"github.com/2389/passkey-auth/internal/credential"
	"github.com/2389/passkey-auth/internal/fido"
)

// writeJSON encodes v as the response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}

// writeServiceError maps orchestrator errors onto HTTP statuses. The
// response body never distinguishes verification failure causes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authn.ErrValidation) || errors.Is(err, credential.ErrValidation):
		http.Error(w, "Invalid request", http.StatusBadRequest)
	case errors.Is(err, authn.ErrNotFound) || errors.Is(err, credential.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, authn.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, authn.ErrVerificationFailed):
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	opts, err := s.authn.BeginRegistration(r.Context(), req.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID            string   `json:"user_id"`
		AttestationObject string   `json:"attestation_object"`
		ClientDataJSON    string   `json:"client_data_json"`
		DeviceName        string   `json:"device_name"`
		AuthenticatorType string   `json:"authenticator_type"`
		Transports        []string `json:"transports"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	attObj, err := fido.Base64URLDecode(req.AttestationObject)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	cdJSON, err := fido.Base64URLDecode(req.ClientDataJSON)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	proj, err := s.authn.CompleteRegistration(r.Context(), authn.RegistrationParams{
		UserID:            req.UserID,
		AttestationObject: attObj,
		ClientDataJSON:    cdJSON,
		DeviceName:        req.DeviceName,
		AuthenticatorType: req.AuthenticatorType,
		Transports:        req.Transports,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, proj)
}

func (s *Server) handleLoginBegin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	opts, err := s.authn.BeginAuthentication(r.Context(), req.Username)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleLoginComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CredentialID      string `json:"credential_id"`
		AuthenticatorData string `json:"authenticator_data"`
		ClientDataJSON    string `json:"client_data_json"`
		Signature         string `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	authData, err := fido.Base64URLDecode(req.AuthenticatorData)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	cdJSON, err := fido.Base64URLDecode(req.ClientDataJSON)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	sig, err := fido.Base64URLDecode(req.Signature)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	res, err := s.authn.CompleteAuthentication(r.Context(), authn.AssertionParams{
		CredentialID:      req.CredentialID,
		AuthenticatorData: authData,
		ClientDataJSON:    cdJSON,
		Signature:         sig,
		RemoteAddr:        r.RemoteAddr,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		UserID    string    `json:"user_id"`
		Username  string    `json:"username"`
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}{
		UserID:    res.UserID,
		Username:  res.Username,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

// authenticate resolves the bearer token on a request to a user ID.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return "", false
	}
	return userID, true
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	recs, err := s.creds.ListForUser(r.Context(), userID, true)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Credentials []credential.Projection `json:"credentials"`
	}{Credentials: credential.ProjectAll(recs)})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	if err := s.creds.Deactivate(r.Context(), r.PathValue("id"), userID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
)

const (
	cookieName       = "authcore.session_token"
	secureCookieName = "__Secure-authcore.session_token"
)

// pinger is satisfied by the Postgres and Redis stores.
type pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

type server struct {
	engine *authcore.Engine
	opts   middleware.Options
	logger *slog.Logger
	health map[string]pinger
}

func (s *server) routes(metricsPath string) http.Handler {
	session := func(name string, h http.HandlerFunc) http.Handler {
		return middleware.RequireSession(s.engine, name, s.opts)(h)
	}
	capable := func(name string, h http.HandlerFunc, caps ...string) http.Handler {
		return middleware.RequireCapabilities(s.engine, name, s.opts, caps...)(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/login", s.login)
	mux.HandleFunc("POST /v1/logout", s.logout)
	mux.Handle("POST /v1/sessions/revoke-all", session("account.logout_all", s.logoutAll))
	mux.Handle("GET /v1/me", session("account.me", s.me))
	mux.Handle("POST /v1/password", session("account.password_change", s.changePassword))
	mux.Handle("POST /v1/totp/setup", session("account.totp_setup", s.totpSetup))
	mux.Handle("POST /v1/totp/confirm", session("account.totp_confirm", s.totpConfirm))
	mux.Handle("POST /v1/totp/disable", session("account.totp_disable", s.totpDisable))
	mux.Handle("POST /v1/backup-codes", session("account.backup_codes", s.backupCodes))
	mux.Handle("GET /v1/records/{id}", capable("records.read", s.readRecord, "records.read"))
	mux.Handle("PUT /v1/records/{id}", capable("records.write", s.writeRecord, "records.write"))
	mux.HandleFunc("GET /healthz", s.healthz)
	if metricsPath != "" {
		mux.Handle("GET "+metricsPath, prometheus.Handler(s.engine))
	}
	return mux
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPCode   string `json:"totp_code"`
	BackupCode string `json:"backup_code"`
	Label      string `json:"label"`
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.Login(middleware.RequestContext(r, s.opts), authcore.LoginInput{
		Email:      body.Email,
		Password:   body.Password,
		TOTPCode:   body.TOTPCode,
		BackupCode: body.BackupCode,
		Label:      body.Label,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	setSessionCookie(w, r, res.Token, res.Session.ExpiresAt)
	out := map[string]any{
		"principal_id": res.Principal.ID,
		"expires_at":   res.Session.ExpiresAt,
	}
	if res.Bearer != "" {
		out["bearer"] = res.Bearer
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Logout(middleware.RequestContext(r, s.opts), middleware.NewCarrier(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) logoutAll(w http.ResponseWriter, r *http.Request) {
	req, _ := middleware.RequestFromContext(r.Context())
	n, err := s.engine.LogoutAll(r.Context(), req.Principal.ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	req, _ := middleware.RequestFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"principal_id":    req.Principal.ID,
		"email":           req.Principal.Email,
		"organization_id": req.Tenant.OrganizationID,
		"role":            req.Tenant.Role,
		"global_admin":    req.Tenant.GlobalAdmin,
		"session_expires": req.Session.ExpiresAt,
	})
}

func (s *server) changePassword(w http.ResponseWriter, r *http.Request) {
	req, _ := middleware.RequestFromContext(r.Context())
	var body struct {
		Current string `json:"current_password"`
		Next    string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.ChangePassword(r.Context(), req.Principal.ID, body.Current, body.Next); err != nil {
		middleware.WriteError(w, err)
		return
	}
	clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) totpSetup(w http.ResponseWriter, r *http.Request) {
	req, _ := middleware.RequestFromContext(r.Context())
	setup, err := s.engine.SetupTOTP(r.Context(), req.Principal.ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": setup.Secret, "uri": setup.URI})
}

func (s *server) totpConfirm(w http.ResponseWriter, r *http.Request) {
	req, _ := middleware.RequestFromContext(r.Context())
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.ConfirmTOTP(r.Context(), req.Principal.ID, body.Code); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) totpDisable(w http.ResponseWriter, r *http.Request) {
	req, _ := middleware.RequestFromContext(r.Context())
	var body struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.DisableTOTP(r.Context(), req.Principal.ID, body.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}
	clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) backupCodes(w http.ResponseWriter, r *http.Request) {
	req, _ := middleware.RequestFromContext(r.Context())
	codes, err := s.engine.GenerateBackupCodes(r.Context(), req.Principal.ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"codes": codes})
}

// readRecord and writeRecord stand in for the protected clinical API.
func (s *server) readRecord(w http.ResponseWriter, r *http.Request) {
	req, _ := middleware.RequestFromContext(r.Context())
	req.Metadata = map[string]string{"record_id": r.PathValue("id")}
	writeJSON(w, http.StatusOK, map[string]string{
		"record_id":       r.PathValue("id"),
		"organization_id": req.Tenant.OrganizationID,
	})
}

func (s *server) writeRecord(w http.ResponseWriter, r *http.Request) {
	req, _ := middleware.RequestFromContext(r.Context())
	req.Metadata = map[string]string{"record_id": r.PathValue("id")}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := make(map[string]string, len(s.health))
	for name, p := range s.health {
		latency, err := p.Ping(ctx)
		if err != nil {
			status = http.StatusServiceUnavailable
			out[name] = "down"
			s.logger.WarnContext(ctx, "health check failed", "backend", name, "error", err)
			continue
		}
		out[name] = latency.Round(time.Microsecond).String()
	}
	writeJSON(w, status, out)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// The __Secure- prefix is only valid on cookies set over TLS.
func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	name := cookieName
	if r.TLS != nil {
		name = secureCookieName
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{cookieName, secureCookieName} {
		if name == secureCookieName && r.TLS == nil {
			continue
		}
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	kerrors "github.com/kauthdev/kauth/errors"
	"github.com/kauthdev/kauth/events"
	"github.com/kauthdev/kauth/internal/repository"
	"github.com/kauthdev/kauth/provider"
)

// providerInfo is the JSON shape returned by the provider discovery endpoint.
type providerInfo struct {
	Key        string   `json:"key"`
	Label      string   `json:"label"`
	BrandColor string   `json:"brand_color"`
	Scopes     []string `json:"scopes"`
	LoginURL   string   `json:"login_url"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	keys := s.engine.Providers()
	infos := make([]providerInfo, 0, len(keys))
	for _, key := range keys {
		desc, ok := s.engine.Descriptor(key)
		if !ok {
			continue
		}
		display := provider.Display(key)
		infos = append(infos, providerInfo{
			Key:        key.String(),
			Label:      display.Label,
			BrandColor: display.BrandColor,
			Scopes:     desc.Scopes,
			LoginURL:   "/login/" + key.String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"providers": infos})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	key := provider.Key(r.PathValue("provider"))
	if !key.Valid() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown provider"})
		return
	}

	url, _, err := s.engine.LoginURL(r.Context(), key, "")
	if err != nil {
		s.writeError(w, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := provider.Key(r.PathValue("provider"))
	if !key.Valid() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown provider"})
		return
	}

	q := r.URL.Query()
	profile, _, err := s.engine.HandleCallback(ctx, key,
		q.Get("code"), q.Get("state"), q.Get("error"), q.Get("error_description"))
	if err != nil {
		s.auditLogin(r, key, nil, string(kerrors.KindOf(err)))
		s.writeError(w, err)
		return
	}

	user, created, err := s.repo.UpsertFromProfile(ctx, key.String(), *profile)
	if err != nil {
		s.log.WithError(err).Error("failed to persist user", "provider", key.String())
		s.writeError(w, kerrors.Unknown(err))
		return
	}

	s.auditLogin(r, key, user, "success")

	token, expiresAt, err := s.tokens.Generate(user.ID.String(), key.String(), user.Name, user.Email)
	if err != nil {
		s.log.WithError(err).Error("failed to issue session token")
		s.writeError(w, kerrors.Unknown(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	s.publishLoginEvents(r, key, user, created)

	http.Redirect(w, r, s.cfg.SuccessRedirect, http.StatusFound)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, err := s.sessionClaims(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "not authenticated"})
		return
	}

	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "not authenticated"})
		return
	}

	user, err := s.repo.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "not authenticated"})
			return
		}
		s.log.WithError(err).Error("failed to load user")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        user.ID.String(),
		"provider":  user.Provider,
		"name":      user.Name,
		"email":     user.Email,
		"image":     user.Image,
		"phone":     user.Phone,
		"birthday":  user.Birthday,
		"birthyear": user.BirthYear,
		"gender":    user.Gender,
		"age_range": user.AgeRange,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged out"})
}

func (s *Server) sessionClaims(r *http.Request) (*sessionClaims, error) {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return nil, err
	}
	claims, err := s.tokens.Validate(cookie.Value)
	if err != nil {
		return nil, err
	}
	return &sessionClaims{UserID: claims.UserID, Provider: claims.Provider}, nil
}

type sessionClaims struct {
	UserID   string
	Provider string
}

func (s *Server) auditLogin(r *http.Request, key provider.Key, user *repository.User, outcome string) {
	rec := &repository.LoginRecord{
		Provider:  key.String(),
		Outcome:   outcome,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if user != nil {
		id := user.ID
		rec.UserID = &id
	}
	if err := s.repo.RecordLogin(r.Context(), rec); err != nil {
		s.log.WithError(err).Warn("failed to record login audit row")
	}
}

func (s *Server) publishLoginEvents(r *http.Request, key provider.Key, user *repository.User, created bool) {
	if s.events == nil || !s.events.IsConnected() {
		return
	}

	ctx := r.Context()
	data := map[string]any{"user_id": user.ID.String()}

	if created {
		if err := s.events.PublishLoginEvent(ctx, events.EventUserCreated, key.String(), data); err != nil {
			s.log.WithError(err).Warn("failed to publish user.created event")
		}
	}
	if err := s.events.PublishLoginEvent(ctx, events.EventLoginSucceeded, key.String(), data); err != nil {
		s.log.WithError(err).Warn("failed to publish login.succeeded event")
	}
}

// writeError renders a taxonomy error as JSON with its mapped HTTP status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) {
		kerr = kerrors.Unknown(err)
	}

	writeJSON(w, kerr.HTTPStatusCode(), map[string]any{
		"error": map[string]any{
			"code":    string(kerr.Kind),
			"message": kerr.Message(),
			"hint":    kerr.Hint(),
			"docs":    kerr.Docs(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

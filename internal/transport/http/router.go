package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gauntlet-service/internal/app"
	"gauntlet-service/internal/domain"
	"gauntlet-service/internal/provision"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SessionCookie carries the session token between login and the websocket upgrade.
const SessionCookie = "gauntlet_session"

// RouterConfig holds the knobs the HTTP surface needs beyond the service.
type RouterConfig struct {
	AdminToken string
	PublicURL  string
}

// API serves the REST endpoints.
type API struct {
	service *app.GameService
	log     *zap.Logger
	cfg     RouterConfig
}

func NewAPI(service *app.GameService, log *zap.Logger, cfg RouterConfig) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{service: service, log: log, cfg: cfg}
}

// NewRouter wires REST and websocket routes.
func NewRouter(api *API, ws *WSHandler) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", api.Login)
		r.Post("/logout", api.Logout)
		r.Get("/groups/{groupID}/scores", api.Scores)

		r.Group(func(r chi.Router) {
			r.Use(api.requireAdmin)
			r.Get("/admin/codes", api.Codes)
			r.Get("/admin/codes/{groupID}/qr", api.CodeQR)
		})
	})
	r.Get("/ws", ws.ServeWS)
	return r
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type loginRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type loginResponse struct {
	Success   bool        `json:"success"`
	Role      domain.Role `json:"role"`
	GroupID   int64       `json:"group_id"`
	GroupName string      `json:"group_name"`
	Name      string      `json:"name"`
	Token     string      `json:"token"`
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, domain.ErrMalformedMessage)
		return
	}

	identity, err := a.service.Login(r.Context(), req.Name, req.Code)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			a.log.Error("login failed", zap.Error(err))
		}
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    identity.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Role:      identity.Role,
		GroupID:   identity.GroupID,
		GroupName: identity.GroupName,
		Name:      identity.Name,
		Token:     identity.Token,
	})
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if err := a.service.Logout(r.Context(), token); err != nil && !errors.Is(err, domain.ErrUnknownSession) {
		a.log.Error("logout failed", zap.Error(err))
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
	}{Success: true})
}

func (a *API) Scores(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		writeError(w, domain.ErrGroupNotFound)
		return
	}
	board, err := a.service.Scoreboard(r.Context(), groupID)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			a.log.Error("scoreboard failed", zap.Int64("group", groupID), zap.Error(err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (a *API) Codes(w http.ResponseWriter, r *http.Request) {
	groups, err := a.service.Groups(r.Context())
	if err != nil {
		a.log.Error("list groups failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, provision.Entries(groups))
}

func (a *API) CodeQR(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		writeError(w, domain.ErrGroupNotFound)
		return
	}
	groups, err := a.service.Groups(r.Context())
	if err != nil {
		a.log.Error("list groups failed", zap.Error(err))
		writeError(w, err)
		return
	}
	for _, g := range groups {
		if g.ID != groupID {
			continue
		}
		png, err := provision.QRCode(a.cfg.PublicURL, g)
		if err != nil {
			a.log.Error("render qr failed", zap.Int64("group", groupID), zap.Error(err))
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
		return
	}
	writeError(w, domain.ErrGroupNotFound)
}

// requireAdmin rejects every request when no admin token is configured.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if a.cfg.AdminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.AdminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Message: "admin token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionToken reads the token from ?token=, the Authorization header or the session cookie.
func sessionToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

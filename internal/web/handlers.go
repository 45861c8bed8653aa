package web

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starford/daylens/internal/client"
	"github.com/starford/daylens/internal/sse"
)

// ClientCookie names the cookie carrying the browser client id.
const ClientCookie = "daylens_client"

//go:embed static
var staticFS embed.FS

// Handler serves the browser surface.
type Handler struct {
	registry *client.Registry
	broker   *sse.Broker
	ready    func(ctx context.Context) error
	logger   *slog.Logger
}

// NewHandler creates a Handler. ready backs the readiness probe and may be nil.
func NewHandler(registry *client.Registry, broker *sse.Broker, ready func(ctx context.Context) error, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, broker: broker, ready: ready, logger: logger}
}

// clientID returns the id from the request cookie, issuing a new one when
// create is set.
func clientID(w http.ResponseWriter, r *http.Request, create bool) (string, bool) {
	if c, err := r.Cookie(ClientCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value, true
		}
	}
	if !create {
		return "", false
	}
	return newClientID(w), true
}

func newClientID(w http.ResponseWriter) string {
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().AddDate(1, 0, 0),
	})
	return id
}

// Index handles GET /: the page shell with the client's latest render.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("token"); token != "" {
		h.redeem(w, r, token)
		return
	}
	id, _ := clientID(w, r, true)
	c := h.registry.Get(id)
	if c == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down"))
		return
	}
	doc, err := c.Document()
	if err != nil {
		h.logger.Error("render document failed", slog.String("client_id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// redeem starts a new client that signs in with token, then sends the
// browser back to / so the token leaves the address bar and history.
func (h *Handler) redeem(w http.ResponseWriter, r *http.Request, token string) {
	id := newClientID(w)
	if c, _ := h.registry.GetWithToken(id, token); c == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down"))
		return
	}
	h.logger.Info("client: sign-in token received", slog.String("client_id", id))
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Events handles GET /events: the client's render stream.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := clientID(w, r, false)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("missing client cookie"))
		return
	}
	c := h.registry.Get(id)
	if c == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down"))
		return
	}
	release := c.Attach()
	defer release()

	h.broker.ServeTopic(w, r, id, func() sse.Event {
		return sse.Event{Type: "render", Data: c.Frame()}
	})
}

// Action handles POST /actions/{binding}.
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	id, ok := clientID(w, r, false)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("missing client cookie"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid form"))
		return
	}
	c := h.registry.Get(id)
	if c == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down"))
		return
	}
	c.Dispatch(chi.URLParam(r, "binding"), r.PostForm)
	w.WriteHeader(http.StatusAccepted)
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": h.registry.Len()})
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/dmitrymomot/guard"
	"github.com/dmitrymomot/guard/core/incident"
	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/middleware"
)

const userIDKey = "user_id"

var pages = template.Must(template.New("").Parse(`
{{define "home"}}<!doctype html><title>guardd</title>
{{if .User}}<p>Signed in as {{.User}}</p>
<form method="post" action="/logout"><input type="hidden" name="csrf_token" value="{{.Token}}"><button>Sign out</button></form>
{{else}}<p><a href="/login">Sign in</a></p>{{end}}{{end}}
{{define "login"}}<!doctype html><title>Sign in</title>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="csrf_token" value="{{.Token}}">
<input name="username" autocomplete="username">
<input name="password" type="password" autocomplete="current-password">
<button>Sign in</button>
</form>{{end}}
`))

type page struct {
	User  string
	Token string
	Error string
}

type app struct {
	cfg   Config
	guard *guard.Guard
	audit *logger.Logger
}

func newApp(cfg Config, g *guard.Guard) *app {
	return &app{cfg: cfg, guard: g, audit: g.Logger().Channel(guard.AuditChannel)}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.home)
	mux.HandleFunc("GET /login", a.loginPage)
	mux.HandleFunc("POST /login", a.login)
	mux.HandleFunc("POST /logout", a.logout)

	mux.Handle("GET /admin/incidents", a.requireUser(a.listIncidents))
	mux.Handle("POST /admin/incidents/{id}/close", a.requireUser(a.closeIncident))
	mux.Handle("GET /admin/logs", a.requireUser(a.searchLogs))
	mux.Handle("GET /admin/logs/stats", a.requireUser(a.logStats))
	return mux
}

// limits lists the routes rate limited ahead of the CSRF check.
func (a *app) limits() []guard.Route {
	return []guard.Route{
		{Pattern: "POST /login", Action: "login", Limit: a.guard.DefaultLimit()},
	}
}

func currentUser(r *http.Request) string {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		return ""
	}
	return sess.GetString(userIDKey)
}

func (a *app) render(w http.ResponseWriter, r *http.Request, name string, status int, p page) {
	token, err := middleware.CSRFToken(r)
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	p.Token = token
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pages.ExecuteTemplate(w, name, p)
}

func (a *app) home(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, "home", http.StatusOK, page{User: currentUser(r)})
}

func (a *app) loginPage(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, "login", http.StatusOK, page{})
}

func (a *app) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if !a.checkCredentials(username, password) {
		a.audit.Warning(ctx, "login failed", map[string]any{"username": username})
		a.render(w, r, "login", http.StatusUnauthorized, page{Error: "Invalid username or password"})
		return
	}

	if _, err := middleware.RegenerateSession(w, r); err != nil {
		a.audit.Error(ctx, "session regeneration failed", map[string]any{"error": err.Error()})
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if _, err := middleware.SetSessionValue(r, userIDKey, username); err != nil {
		a.audit.Error(ctx, "session update failed", map[string]any{"error": err.Error()})
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	a.audit.Notice(ctx, "user logged in", map[string]any{"username": username})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *app) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.DemoUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.cfg.DemoPassword)) == 1
	return userOK && passOK
}

func (a *app) logout(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if err := middleware.DestroySession(w, r); err != nil {
		a.audit.Error(r.Context(), "session destroy failed", map[string]any{"error": err.Error()})
	}
	if user != "" {
		a.audit.Info(r.Context(), "user logged out", map[string]any{"username": user})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *app) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		next(w, r)
	})
}

func (a *app) listIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := a.guard.Incidents().List(r.Context(), incident.Filter{
		Status:   incident.Status(q.Get("status")),
		Severity: q.Get("severity"),
		Channel:  q.Get("channel"),
		Limit:    intParam(q.Get("limit"), 50),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *app) closeIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := a.guard.Incidents().Close(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, incident.ErrNotFound), errors.Is(err, incident.ErrInvalidID):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	a.audit.Notice(r.Context(), "incident closed", map[string]any{"incident_id": inc.ID, "by": currentUser(r)})
	writeJSON(w, http.StatusOK, inc)
}

func (a *app) searchLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := logger.Query{
		Text:  q.Get("q"),
		Limit: intParam(q.Get("limit"), 100),
	}
	if lvl := q.Get("level"); lvl != "" {
		parsed, err := logger.ParseLevel(lvl)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		query.MinLevel = parsed
	}

	entries, err := a.guard.Logger().Search(r.Context(), channelParam(q.Get("channel")), query)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *app) logStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stats, err := a.guard.Logger().Stats(r.Context(),
		channelParam(q.Get("channel")),
		intParam(q.Get("days"), 7),
		intParam(q.Get("top"), 10),
	)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func channelParam(s string) string {
	if s == "" {
		return guard.AuditChannel
	}
	return s
}

func intParam(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

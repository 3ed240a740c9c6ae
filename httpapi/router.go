// Package httpapi is the directory's HTTP side door: the /fecha time
// service peers use for request timestamps, health, Prometheus metrics and
// read-only views of the registry.
package httpapi

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"p2pdir/common"
	"p2pdir/registry"
)

type api struct {
	reg     *registry.Registry
	started time.Time
	now     func() time.Time
	log     zerolog.Logger
}

// NewRouter builds the handler. gatherer may be nil to omit /metrics.
func NewRouter(reg *registry.Registry, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	a := &api{
		reg:     reg,
		started: time.Now(),
		now:     time.Now,
		log:     log.With().Str("component", "http").Logger(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/fecha", a.fecha).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/stats", a.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/users", a.users).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{name}/files", a.userFiles).Methods(http.MethodGet)
	return r
}

func (a *api) fecha(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(a.now().Format(common.TimestampLayout)))
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

type statsView struct {
	Users          int    `json:"users"`
	ConnectedUsers int    `json:"connected_users"`
	Files          int    `json:"files"`
	MaxUsers       int    `json:"max_users"`
	MaxFiles       int    `json:"max_files"`
	Uptime         string `json:"uptime"`
	Started        string `json:"started"`
}

func (a *api) stats(w http.ResponseWriter, _ *http.Request) {
	s := a.reg.Stats()
	limits := a.reg.Limits()
	writeJSON(w, a.log, http.StatusOK, ok(statsView{
		Users:          s.Users,
		ConnectedUsers: s.ConnectedUsers,
		Files:          s.Files,
		MaxUsers:       limits.MaxUsers,
		MaxFiles:       limits.MaxFiles,
		Uptime:         humanize.RelTime(a.started, a.now(), "", ""),
		Started:        humanize.Time(a.started),
	}))
}

type userView struct {
	Username  string `json:"username"`
	Connected bool   `json:"connected"`
	IP        string `json:"ip,omitempty"`
	Port      int    `json:"port,omitempty"`
	Files     int    `json:"files"`
}

func (a *api) users(w http.ResponseWriter, _ *http.Request) {
	counts := make(map[string]int)
	for _, f := range a.reg.Files() {
		counts[f.Owner]++
	}

	users := a.reg.Users()
	views := make([]userView, 0, len(users))
	for _, u := range users {
		v := userView{Username: u.Username, Connected: u.Connected, Files: counts[u.Username]}
		if u.Connected {
			v.IP, v.Port = u.IP, u.Port
		}
		views = append(views, v)
	}
	writeJSON(w, a.log, http.StatusOK, ok(views))
}

type fileView struct {
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

func (a *api) userFiles(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, found := a.reg.FindUser(name); !found {
		writeJSON(w, a.log, http.StatusNotFound, failure("user not found"))
		return
	}

	files := a.reg.FilesOf(name)
	views := make([]fileView, 0, len(files))
	for _, f := range files {
		views = append(views, fileView{Filename: f.Filename, Description: f.Description})
	}
	writeJSON(w, a.log, http.StatusOK, ok(views))
}

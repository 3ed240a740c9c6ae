package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pdir/common"
	"p2pdir/metrics"
	"p2pdir/registry"
)

func seeded(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.DefaultLimits)
	require.NoError(t, reg.InsertUser("alice"))
	require.NoError(t, reg.InsertUser("bob"))
	require.NoError(t, reg.Connect("bob", "10.0.0.2", 5000))
	require.NoError(t, reg.Publish("bob", "song.mp3", "a song"))
	require.NoError(t, reg.Publish("bob", "notes.txt", "notes"))
	return reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var resp Response
	resp.Data = data
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestFecha(t *testing.T) {
	h := NewRouter(registry.New(registry.DefaultLimits), nil, zerolog.Nop())

	rec := get(t, h, "/fecha")
	require.Equal(t, http.StatusOK, rec.Code)
	ts, err := time.ParseInLocation(common.TimestampLayout, rec.Body.String(), time.Local)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
}

func TestHealthz(t *testing.T) {
	h := NewRouter(registry.New(registry.DefaultLimits), nil, zerolog.Nop())

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStats(t *testing.T) {
	h := NewRouter(seeded(t), nil, zerolog.Nop())

	rec := get(t, h, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats statsView
	resp := decode(t, rec, &stats)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.ConnectedUsers)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 100, stats.MaxUsers)
	assert.NotEmpty(t, stats.Uptime)
}

func TestUsers(t *testing.T) {
	h := NewRouter(seeded(t), nil, zerolog.Nop())

	rec := get(t, h, "/api/users")
	require.Equal(t, http.StatusOK, rec.Code)

	var users []userView
	decode(t, rec, &users)
	assert.Equal(t, []userView{
		{Username: "alice"},
		{Username: "bob", Connected: true, IP: "10.0.0.2", Port: 5000, Files: 2},
	}, users)
}

func TestUserFiles(t *testing.T) {
	h := NewRouter(seeded(t), nil, zerolog.Nop())

	rec := get(t, h, "/api/users/bob/files")
	require.Equal(t, http.StatusOK, rec.Code)
	var files []fileView
	decode(t, rec, &files)
	assert.Equal(t, []fileView{
		{Filename: "song.mp3", Description: "a song"},
		{Filename: "notes.txt", Description: "notes"},
	}, files)

	rec = get(t, h, "/api/users/alice/files")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)

	rec = get(t, h, "/api/users/ghost/files")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode(t, rec, nil)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "user not found", resp.Error)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := seeded(t)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	m.WatchRegistry(reg)
	m.RecordRequest("REGISTER", 0, 0.001)

	h := NewRouter(reg, promReg, zerolog.Nop())
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "p2pdir_registry_users 2")
	assert.Contains(t, body, "p2pdir_registry_files 2")

	rec = get(t, NewRouter(reg, nil, zerolog.Nop()), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewRouter(registry.New(registry.DefaultLimits), nil, zerolog.Nop())

	for _, path := range []string{"/fecha", "/healthz", "/api/stats", "/api/users", "/api/users/bob/files"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}")))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}

func TestServeAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	h := NewRouter(registry.New(registry.DefaultLimits), nil, zerolog.Nop())
	go func() { done <- Serve(ctx, "127.0.0.1:0", h, zerolog.Nop(), ready) }()

	addr := <-ready
	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

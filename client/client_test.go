package client

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pdir/common"
	"p2pdir/peer"
	"p2pdir/registry"
	"p2pdir/tracker"
)

type fixedClock string

func (c fixedClock) Now(context.Context) (string, error) { return string(c), nil }

func startDirectory(t *testing.T) string {
	t.Helper()
	srv := tracker.NewServer(tracker.ServerConfig{Address: "127.0.0.1:0", ReadTimeout: time.Second},
		registry.New(registry.DefaultLimits), nil, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	<-srv.Ready()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv.Addr().String()
}

func TestClientCommands(t *testing.T) {
	c := New(startDirectory(t), fixedClock("01/01/2024 10:00:00"), time.Second)
	ctx := context.Background()

	code, err := c.Register(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	code, err = c.Register(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	code, _ = c.Connect(ctx, "alice", 4000)
	assert.Equal(t, 0, code)

	code, _ = c.Publish(ctx, "alice", "notes.txt", "my notes")
	assert.Equal(t, 0, code)

	code, peers, err := c.ListUsers(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []registry.Peer{{Username: "alice", IP: "127.0.0.1", Port: 4000}}, peers)

	code, files, err := c.ListContent(ctx, "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"notes.txt"}, files)

	code, _ = c.Delete(ctx, "alice", "notes.txt")
	assert.Equal(t, 0, code)

	code, files, err = c.ListContent(ctx, "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, code)
	assert.Nil(t, files)

	code, _ = c.Disconnect(ctx, "alice")
	assert.Equal(t, 0, code)
	code, _, _ = c.ListUsers(ctx, "alice")
	assert.Equal(t, 2, code)

	code, _ = c.Unregister(ctx, "alice")
	assert.Equal(t, 0, code)
}

func TestClientNoResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		for i := 0; i < 3; i++ {
			_, _ = r.ReadString(0)
		}
		_ = conn.Close()
	}()

	c := New(ln.Addr().String(), nil, time.Second)
	_, err = c.Register(context.Background(), "alice")
	assert.True(t, errors.Is(err, ErrNoResponse), "got %v", err)
}

func TestFetchFile(t *testing.T) {
	c := New(startDirectory(t), nil, 2*time.Second)
	ctx := context.Background()

	shared := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(shared, "song.mp3"), []byte("la la la"), 0o644))
	ps := peer.NewServer("127.0.0.1:0", shared, zerolog.Nop())
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = ps.Serve(pctx) }()
	<-ps.Ready()

	for _, u := range []string{"bob", "carol"} {
		_, err := c.Register(ctx, u)
		require.NoError(t, err)
	}
	_, _ = c.Connect(ctx, "bob", ps.Port())
	_, _ = c.Connect(ctx, "carol", 1)
	_, _ = c.Publish(ctx, "bob", "song.mp3", "a song")

	local := filepath.Join(t.TempDir(), "song.mp3")
	n, err := c.FetchFile(ctx, "carol", "bob", "song.mp3", local)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	_, err = c.FetchFile(ctx, "carol", "bob", "other.mp3", local)
	assert.True(t, errors.Is(err, ErrNotPublished))

	_, err = c.FetchFile(ctx, "carol", "dave", "song.mp3", local)
	var ce *CodeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Code)
	assert.Equal(t, "LIST_CONTENT FAIL, REMOTE USER DOES NOT EXIST", ce.Error())

	_, _ = c.Disconnect(ctx, "bob")
	_, err = c.FetchFile(ctx, "carol", "bob", "song.mp3", local)
	assert.True(t, errors.Is(err, ErrOwnerOffline))
}

func TestHTTPClock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("15/10/2026 09:30:00\n"))
	}))
	defer srv.Close()

	ts, err := HTTPClock{URL: srv.URL + "/fecha"}.Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "15/10/2026 09:30:00", ts)

	bad := httptest.NewServer(http.NotFoundHandler())
	defer bad.Close()
	_, err = HTTPClock{URL: bad.URL}.Now(context.Background())
	assert.Error(t, err)
}

func TestLocalClockLayout(t *testing.T) {
	ts, err := LocalClock{}.Now(context.Background())
	require.NoError(t, err)
	_, err = time.Parse(common.TimestampLayout, ts)
	assert.NoError(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "REGISTER OK", Describe(tracker.CmdRegister, 0))
	assert.Equal(t, "USERNAME IN USE", Describe(tracker.CmdRegister, 1))
	assert.Equal(t, "DELETE FAIL, CONTENT NOT PUBLISHED", Describe(tracker.CmdDelete, 3))
	assert.Equal(t, "CONNECT FAIL", Describe(tracker.CmdConnect, 9))
}

func TestSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := LoadSession(path)
	require.NoError(t, err)
	assert.Empty(t, s.User)

	require.NoError(t, SaveSession(path, Session{User: "bob", ListenPort: 5000}))
	s, err = LoadSession(path)
	require.NoError(t, err)
	assert.Equal(t, Session{User: "bob", ListenPort: 5000}, s)

	require.NoError(t, ClearSession(path))
	require.NoError(t, ClearSession(path))
}

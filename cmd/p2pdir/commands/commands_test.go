package commands

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pdir/audit"
	"p2pdir/client"
	"p2pdir/tracker"
)

func TestListenAddress(t *testing.T) {
	tests := []struct {
		base    string
		port    int
		want    string
		wantErr bool
	}{
		{":8888", 0, ":8888", false},
		{":8888", 4000, ":4000", false},
		{"127.0.0.1:8888", 4000, "127.0.0.1:4000", false},
		{"0.0.0.0:1", 65535, "0.0.0.0:65535", false},
		{":8888", 80, "", true},
		{":8888", 70000, "", true},
	}
	for _, tt := range tests {
		got, err := listenAddress(tt.base, tt.port)
		if tt.wantErr {
			assert.Error(t, err, "port %d", tt.port)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestOpenSink(t *testing.T) {
	dir := t.TempDir()

	s, err := openSink("file", filepath.Join(dir, "logs.txt"))
	require.NoError(t, err)
	assert.IsType(t, &audit.FileSink{}, s)
	require.NoError(t, s.Close())

	s, err = openSink("badger", filepath.Join(dir, "db"))
	require.NoError(t, err)
	assert.IsType(t, &audit.BadgerSink{}, s)
	require.NoError(t, s.Close())

	_, err = openSink("s3", dir)
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, report(&out, tracker.CmdPublish, 0))
	assert.Equal(t, "PUBLISH OK\n", out.String())

	out.Reset()
	err := report(&out, tracker.CmdPublish, 3)
	assert.Equal(t, "PUBLISH FAIL, CONTENT ALREADY PUBLISHED\n", out.String())
	var ce *client.CodeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Code)
}

func TestCurrentUser(t *testing.T) {
	sessionPath = filepath.Join(t.TempDir(), "session.json")
	asUser = ""
	t.Cleanup(func() { sessionPath, asUser = client.SessionFile, "" })

	_, err := currentUser()
	assert.Error(t, err)

	require.NoError(t, client.SaveSession(sessionPath, client.Session{User: "bob", ListenPort: 5000}))
	user, err := currentUser()
	require.NoError(t, err)
	assert.Equal(t, "bob", user)

	asUser = "alice"
	user, err = currentUser()
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

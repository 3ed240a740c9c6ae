package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryString(t *testing.T) {
	tests := []struct {
		e    Entry
		want string
	}{
		{Entry{User: "alice", Operation: "PUBLISH", Param: "a.txt", Timestamp: "t"}, "[t] alice -> PUBLISH a.txt"},
		{Entry{User: "alice", Operation: "DELETE", Param: "a.txt", Timestamp: "t"}, "[t] alice -> DELETE a.txt"},
		{Entry{User: "bob", Operation: "CONNECT", Param: "5000", Timestamp: "t"}, "[t] bob -> CONNECT"},
		{Entry{User: "bob", Operation: "LIST_USERS", Timestamp: "t"}, "[t] bob -> LIST_USERS"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.e.String())
	}
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.txt")

	s, err := OpenFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(Entry{User: "a", Operation: "REGISTER", Timestamp: "t1"}))
	require.NoError(t, s.Close())

	s, err = OpenFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(Entry{User: "a", Operation: "PUBLISH", Param: "f", Timestamp: "t2"}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[t1] a -> REGISTER\n[t2] a -> PUBLISH f\n", string(data))
}

func TestBadgerSinkRecent(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenBadgerSink(dir)
	require.NoError(t, err)
	for _, op := range []string{"REGISTER", "CONNECT", "PUBLISH", "DISCONNECT"} {
		require.NoError(t, s.Write(Entry{User: "alice", Operation: op, Timestamp: "t"}))
	}

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "PUBLISH", recent[0].Operation)
	assert.Equal(t, "DISCONNECT", recent[1].Operation)
	require.NoError(t, s.Close())

	// Entries and ordering survive a reopen.
	s, err = OpenBadgerSink(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Write(Entry{User: "bob", Operation: "REGISTER", Timestamp: "t"}))

	all, err := s.Recent(100)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "REGISTER", all[0].Operation)
	assert.Equal(t, "bob", all[4].User)
}

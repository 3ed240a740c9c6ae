// Package registry is the directory's single source of truth: the users
// table and the published files table, each behind its own mutex.
//
// Every operation that needs both tables takes the users lock first and
// the files lock second.
package registry

import "sync"

// User is a registered peer. IP and Port are only meaningful while
// Connected is true.
type User struct {
	Username  string
	IP        string
	Port      int
	Connected bool

	seq uint64
}

// FileEntry is a file advertised by Owner. (Filename, Owner) is unique.
type FileEntry struct {
	Filename    string
	Description string
	Owner       string

	seq uint64
}

// Peer is the reachability triple reported for a connected user.
type Peer struct {
	Username string
	IP       string
	Port     int
}

// Limits caps the table sizes. Zero or negative means unlimited.
type Limits struct {
	MaxUsers int
	MaxFiles int
}

// DefaultLimits mirrors the table sizes of protocol version 1 servers.
var DefaultLimits = Limits{MaxUsers: 100, MaxFiles: 1000}

// Stats is a point-in-time count of the registry contents.
type Stats struct {
	Users          int
	ConnectedUsers int
	Files          int
}

type fileKey struct {
	filename string
	owner    string
}

// Registry holds both tables. The zero value is not usable; call New.
type Registry struct {
	limits Limits

	usersMu sync.Mutex
	users   map[string]*User
	userSeq uint64

	filesMu sync.Mutex
	files   map[fileKey]*FileEntry
	fileSeq uint64
}

// New returns an empty registry enforcing limits.
func New(limits Limits) *Registry {
	return &Registry{
		limits: limits,
		users:  make(map[string]*User),
		files:  make(map[fileKey]*FileEntry),
	}
}

// Limits returns the configured table caps.
func (r *Registry) Limits() Limits {
	return r.limits
}

package registry

import (
	"sort"

	"github.com/pkg/errors"
)

// FindUser returns a copy of the named user.
func (r *Registry) FindUser(name string) (User, bool) {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()

	u, ok := r.users[name]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// InsertUser registers name as a new, disconnected user.
func (r *Registry) InsertUser(name string) error {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()

	if _, ok := r.users[name]; ok {
		return errors.Wrapf(ErrUserExists, "register %q", name)
	}
	if r.limits.MaxUsers > 0 && len(r.users) >= r.limits.MaxUsers {
		return errors.Wrapf(ErrCapacity, "register %q: %d users", name, len(r.users))
	}

	r.userSeq++
	r.users[name] = &User{Username: name, seq: r.userSeq}
	return nil
}

// RemoveUser deletes name and every file it published. Both locks are held
// for the whole cascade so no file can outlive its owner. It returns the
// number of files removed.
func (r *Registry) RemoveUser(name string) (int, error) {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()

	if _, ok := r.users[name]; !ok {
		return 0, errors.Wrapf(ErrUserNotFound, "unregister %q", name)
	}
	delete(r.users, name)

	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	removed := 0
	for key := range r.files {
		if key.owner == name {
			delete(r.files, key)
			removed++
		}
	}
	return removed, nil
}

// SetConnected overwrites the reachability of name unconditionally.
func (r *Registry) SetConnected(name, ip string, port int, connected bool) error {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()

	u, ok := r.users[name]
	if !ok {
		return errors.Wrapf(ErrUserNotFound, "set connected %q", name)
	}
	u.IP, u.Port, u.Connected = ip, port, connected
	return nil
}

// Connect marks name reachable at ip:port. It fails if name is unknown or
// already connected.
func (r *Registry) Connect(name, ip string, port int) error {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()

	u, ok := r.users[name]
	if !ok {
		return errors.Wrapf(ErrUserNotFound, "connect %q", name)
	}
	if u.Connected {
		return errors.Wrapf(ErrAlreadyConnected, "connect %q", name)
	}
	u.IP, u.Port, u.Connected = ip, port, true
	return nil
}

// Disconnect marks name unreachable. It fails if name is unknown or not
// connected.
func (r *Registry) Disconnect(name string) error {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()

	u, ok := r.users[name]
	if !ok {
		return errors.Wrapf(ErrUserNotFound, "disconnect %q", name)
	}
	if !u.Connected {
		return errors.Wrapf(ErrNotConnected, "disconnect %q", name)
	}
	u.Connected = false
	return nil
}

// CheckConnected reports ErrUserNotFound or ErrNotConnected for name, or
// nil if name is connected.
func (r *Registry) CheckConnected(name string) error {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()

	return r.checkConnectedLocked(name)
}

func (r *Registry) checkConnectedLocked(name string) error {
	u, ok := r.users[name]
	if !ok {
		return errors.Wrapf(ErrUserNotFound, "user %q", name)
	}
	if !u.Connected {
		return errors.Wrapf(ErrNotConnected, "user %q", name)
	}
	return nil
}

// FindFile returns a copy of the entry for (filename, owner).
func (r *Registry) FindFile(filename, owner string) (FileEntry, bool) {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[fileKey{filename, owner}]
	if !ok {
		return FileEntry{}, false
	}
	return *f, true
}

// InsertFile adds (filename, owner) without looking at the users table.
// Use Publish when the owner must exist and be connected.
func (r *Registry) InsertFile(filename, description, owner string) error {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	return r.insertFileLocked(filename, description, owner)
}

func (r *Registry) insertFileLocked(filename, description, owner string) error {
	key := fileKey{filename, owner}
	if _, ok := r.files[key]; ok {
		return errors.Wrapf(ErrFileExists, "publish %q by %q", filename, owner)
	}
	if r.limits.MaxFiles > 0 && len(r.files) >= r.limits.MaxFiles {
		return errors.Wrapf(ErrCapacity, "publish %q by %q: %d files", filename, owner, len(r.files))
	}

	r.fileSeq++
	r.files[key] = &FileEntry{
		Filename:    filename,
		Description: description,
		Owner:       owner,
		seq:         r.fileSeq,
	}
	return nil
}

// Publish adds a file for a connected owner. The owner check and the
// insert happen under both locks, so a concurrent RemoveUser either sees
// the new file and deletes it or makes Publish fail with ErrUserNotFound.
func (r *Registry) Publish(owner, filename, description string) error {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()

	if err := r.checkConnectedLocked(owner); err != nil {
		return err
	}

	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	return r.insertFileLocked(filename, description, owner)
}

// RemoveFile deletes (filename, owner).
func (r *Registry) RemoveFile(filename, owner string) error {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	key := fileKey{filename, owner}
	if _, ok := r.files[key]; !ok {
		return errors.Wrapf(ErrFileNotFound, "delete %q by %q", filename, owner)
	}
	delete(r.files, key)
	return nil
}

// ListConnectedUsers returns every connected user in registration order.
// The order is a convenience, not part of the protocol contract.
func (r *Registry) ListConnectedUsers() []Peer {
	r.usersMu.Lock()
	connected := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		if u.Connected {
			cp := *u
			connected = append(connected, &cp)
		}
	}
	r.usersMu.Unlock()

	sort.Slice(connected, func(i, j int) bool { return connected[i].seq < connected[j].seq })

	peers := make([]Peer, len(connected))
	for i, u := range connected {
		peers[i] = Peer{Username: u.Username, IP: u.IP, Port: u.Port}
	}
	return peers
}

// ListFilesOf returns the filenames published by owner in publish order.
func (r *Registry) ListFilesOf(owner string) []string {
	entries := r.filesOf(owner)
	names := make([]string, len(entries))
	for i, f := range entries {
		names[i] = f.Filename
	}
	return names
}

// FilesOf returns the entries published by owner in publish order.
func (r *Registry) FilesOf(owner string) []FileEntry {
	return r.filesOf(owner)
}

func (r *Registry) filesOf(owner string) []FileEntry {
	r.filesMu.Lock()
	entries := make([]FileEntry, 0)
	for key, f := range r.files {
		if key.owner == owner {
			entries = append(entries, *f)
		}
	}
	r.filesMu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// Users returns a snapshot of every user in registration order. IP and
// Port are cleared for disconnected users.
func (r *Registry) Users() []User {
	r.usersMu.Lock()
	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		cp := *u
		if !cp.Connected {
			cp.IP, cp.Port = "", 0
		}
		users = append(users, cp)
	}
	r.usersMu.Unlock()

	sort.Slice(users, func(i, j int) bool { return users[i].seq < users[j].seq })
	return users
}

// Files returns a snapshot of every published file in publish order.
func (r *Registry) Files() []FileEntry {
	r.filesMu.Lock()
	files := make([]FileEntry, 0, len(r.files))
	for _, f := range r.files {
		files = append(files, *f)
	}
	r.filesMu.Unlock()

	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	return files
}

// Stats counts users, connected users and files.
func (r *Registry) Stats() Stats {
	var s Stats

	r.usersMu.Lock()
	s.Users = len(r.users)
	for _, u := range r.users {
		if u.Connected {
			s.ConnectedUsers++
		}
	}
	r.usersMu.Unlock()

	r.filesMu.Lock()
	s.Files = len(r.files)
	r.filesMu.Unlock()

	return s
}

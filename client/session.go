package client

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// SessionFile is where the CLI remembers the connected user between
// invocations.
const SessionFile = ".p2pdir_session.json"

// Session is the CLI's view of the user it last connected.
type Session struct {
	User       string `json:"user"`
	ListenPort int    `json:"listen_port"`
}

// LoadSession reads path. A missing file yields an empty session.
func LoadSession(path string) (Session, error) {
	var s Session
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, errors.Wrap(err, "read session")
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, errors.Wrapf(err, "decode session %s", path)
	}
	return s, nil
}

func SaveSession(path string, s Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o600), "write session")
}

// ClearSession removes path; a missing file is not an error.
func ClearSession(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "remove session")
}

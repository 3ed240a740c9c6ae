// Package audit carries one record per completed directory request to an
// external logging collaborator. Delivery is best effort: failures are
// reported to the caller, never retried, and never affect the registry.
package audit

import (
	"context"
	"fmt"
)

// Entry is one audited request.
type Entry struct {
	User      string
	Operation string
	// Param is the request's primary parameter (port, filename or target
	// user) or empty.
	Param     string
	Timestamp string
}

// String renders the entry the way the logging collaborator writes it:
// file operations carry their filename, everything else does not.
func (e Entry) String() string {
	switch e.Operation {
	case "PUBLISH", "DELETE":
		return fmt.Sprintf("[%s] %s -> %s %s", e.Timestamp, e.User, e.Operation, e.Param)
	default:
		return fmt.Sprintf("[%s] %s -> %s", e.Timestamp, e.User, e.Operation)
	}
}

// Notifier delivers entries to the collaborator.
type Notifier interface {
	Notify(ctx context.Context, e Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Notify(context.Context, Entry) error { return nil }

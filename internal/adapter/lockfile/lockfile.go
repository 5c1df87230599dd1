// Package lockfile keeps a second snapkeep server from running against the
// same database.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Content is written into the lock file for diagnostics.
type Content struct {
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname"`
	Started  time.Time `json:"started"`
}

// ErrLockActive is returned when another process holds the lock.
type ErrLockActive struct {
	Path   string
	Holder *Content
}

func (e *ErrLockActive) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("lock %s is held by another process", e.Path)
	}
	return fmt.Sprintf("lock %s is held by PID %d on host '%s' since %s",
		e.Path, e.Holder.PID, e.Holder.Hostname, e.Holder.Started.Format(time.RFC3339))
}

var ErrNotHeld = errors.New("lock is not held")

type Lock struct {
	path string
	file *os.File
}

func (l *Lock) Path() string {
	return l.path
}

func readContent(path string) *Content {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	var c Content
	if err := json.Unmarshal(data, &c); err != nil {
		return nil
	}
	return &c
}

func writeContent(f *os.File) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	data, err := json.Marshal(Content{PID: os.Getpid(), Hostname: hostname, Started: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

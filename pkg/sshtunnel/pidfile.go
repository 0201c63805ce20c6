package sshtunnel

import (
	"os"

	"github.com/docker/docker/pkg/pidfile"
)

// pidFile wraps docker/docker's pidfile writer: a path plus a Write step,
// with removal left to an explicit on-exit hook rather than a finalizer.
type pidFile struct {
	path string
}

func newPidFile(path string) (*pidFile, error) {
	if path == "" {
		f, err := os.CreateTemp("", "go-tunnel-*.pid")
		if err != nil {
			return nil, err
		}
		path = f.Name()
		f.Close()
		os.Remove(path)
	}
	return &pidFile{path: path}, nil
}

// write records the current process id.
func (f *pidFile) write() error {
	return pidfile.Write(f.path, os.Getpid())
}

// remove deletes the pidfile. Safe to call even if write never succeeded.
func (f *pidFile) remove() error {
	return os.Remove(f.path)
}

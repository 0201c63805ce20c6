package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// terminate sends SIGTERM to the tunnel identified by --pid or --pid-file,
// waits 1s, then probes with signal 0 to report whether it actually died.
func terminate(flags rootFlags, log *logrus.Entry) (bool, error) {
	pid := flags.pid
	if pid == 0 {
		if flags.pidFile == "" {
			return false, fmt.Errorf("--terminate requires --pid or --pid-file")
		}
		raw, err := os.ReadFile(flags.pidFile)
		if err != nil {
			return false, fmt.Errorf("reading pid file: %w", err)
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			return false, fmt.Errorf("parsing pid file: %w", err)
		}
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.WithError(err).Warnf("failed to signal pid %d", pid)
		return false, nil
	}

	time.Sleep(1 * time.Second)

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		log.Infof("tunnel (pid %d) stopped", pid)
		return true, nil
	}
	log.Warnf("tunnel (pid %d) did not stop within 1s", pid)
	return false, nil
}

//go:build !windows

package sshtunnel

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// daemonEnvVar marks a re-exec'd process as already detached, so Daemonize
// knows not to fork again.
const daemonEnvVar = "GO_TUNNEL_DAEMONIZED"

// Daemonize detaches the process from its controlling terminal: new
// session, cwd reset to ".", umask 022, stdio redirected to the null
// device on every platform except macOS.
//
// Go cannot safely fork(2) a multithreaded runtime, so a double-fork is
// realized as a self re-exec into a new session instead: Daemonize returns
// nil when this call is already the detached child, returns an error when
// the child cannot be spawned, and otherwise never returns (it spawned the
// child and calls os.Exit(0)).
func Daemonize() error {
	if os.Getenv(daemonEnvVar) == "1" {
		unix.Umask(0o022)
		if runtime.GOOS != "darwin" {
			redirectStdioToDevNull()
		}
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("sshtunnel: resolving executable for daemonize: %w", err)
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnvVar+"=1")
	cmd.Dir = "."
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sshtunnel: spawning daemon child: %w", err)
	}
	os.Exit(0)
	return nil // unreachable
}

func redirectStdioToDevNull() {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return
	}
	defer devNull.Close()
	fd := int(devNull.Fd())
	unix.Dup2(fd, int(os.Stdin.Fd()))
	unix.Dup2(fd, int(os.Stdout.Fd()))
	unix.Dup2(fd, int(os.Stderr.Fd()))
}

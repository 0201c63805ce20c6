// Package sshtunnel implements TunnelSupervisor: it reserves a remote port
// from the control API, opens an outbound secure-shell session, requests
// reverse port forwarding, and hands each accepted channel to a fresh
// proxyconn.Connection. State is a single explicit struct passed by
// pointer — no package-level singleton.
package sshtunnel

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/appurify/go-tunnel/pkg/constants"
	"github.com/appurify/go-tunnel/pkg/control"
	rherrors "github.com/appurify/go-tunnel/pkg/errors"
	"github.com/appurify/go-tunnel/pkg/proxyconn"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// maxRestarts mirrors constants.MaxRestarts; kept local for readability at
// call sites.
const maxRestarts = constants.MaxRestarts

// Options configures a Supervisor before Run is called.
type Options struct {
	PidFilePath string
	Daemon      bool
}

// reservationClient is the subset of *control.Client the supervisor needs;
// satisfied by *control.Client in production and by a fake in tests.
type reservationClient interface {
	Reserve(control.Credentials) (*control.Reservation, error)
	Unreserve(control.Credentials, int) error
}

// Supervisor owns the secure-shell session, the reservation Config, and
// the daemon/retry bookkeeping for exactly one tunnel lifetime.
type Supervisor struct {
	control reservationClient
	creds   control.Credentials
	opts    Options
	log     *logrus.Entry

	pidFile *pidFile

	client  *ssh.Client
	cfg     *Config
	retries int

	// session is normally s.dialAndServe; overridable in tests so the
	// retry/restart/stop bookkeeping in runSessions can be exercised without
	// a real secure-shell dial.
	session func(sigCh <-chan os.Signal) (stopped bool, err error)
}

// New builds a Supervisor. ctl is the already-configured control-API
// client; creds is whichever credential pair the CLI validated.
func New(ctl *control.Client, creds control.Credentials, opts Options, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		control: ctl,
		creds:   creds,
		opts:    opts,
		log:     log.WithField("component", "tunnel"),
	}
}

// Run executes the full reserve/dial/serve/restart lifecycle and returns
// the process exit code (0 on any clean stop, 1 on setup failure).
func (s *Supervisor) Run() int {
	if s.opts.Daemon {
		if err := Daemonize(); err != nil {
			s.log.WithError(err).Error("failed to daemonize")
			return 1
		}
	}

	pf, err := newPidFile(s.opts.PidFilePath)
	if err != nil {
		s.log.WithError(err).Error("failed to prepare pidfile")
		return 1
	}
	s.pidFile = pf
	if err := s.pidFile.write(); err != nil {
		s.log.WithError(err).Error("failed to write pidfile")
		return 1
	}
	defer s.pidFile.remove()

	sigCh, stopWatching := watchSignals()
	defer stopWatching()

	resv, err := s.control.Reserve(s.creds)
	if err != nil {
		s.log.WithError(err).Error("reservation failed")
		return 1
	}
	cfg, err := NewConfig(resv)
	if err != nil {
		s.log.WithError(err).Error("could not reconstruct reservation key material")
		s.unreserveBestEffort(resv.ProxyPort)
		return 1
	}
	s.cfg = cfg
	s.log = s.log.WithFields(logrus.Fields{"ssh_host": cfg.SSHHost, "proxy_port": cfg.ProxyPort})

	return s.runSessions(sigCh, cfg.ProxyPort)
}

// runSessions drives the reserve-once/dial-many retry loop described in
// spec.md §4.4 steps 5-7: each session (normally one dial + accept loop) is
// retried up to maxRestarts times on a transport fault, and the reservation
// is unreserved exactly once regardless of which path ends the loop.
func (s *Supervisor) runSessions(sigCh <-chan os.Signal, proxyPort int) int {
	session := s.session
	if session == nil {
		session = s.dialAndServe
	}

	for {
		stopped, err := session(sigCh)
		if err != nil {
			s.log.WithError(err).Error("secure-shell session setup failed, unreserving")
			s.unreserveBestEffort(proxyPort)
			return 1
		}
		if stopped {
			s.unreserveBestEffort(proxyPort)
			return 0
		}

		// Accept loop faulted on a transient transport error (not a signal).
		if s.retries >= maxRestarts {
			s.log.Warn("max restarts reached, unreserving and exiting")
			s.unreserveBestEffort(proxyPort)
			return 0
		}
		s.retries++
		s.log.WithField("retry", s.retries).Warn("restarting secure-shell session after transport fault")
	}
}

// dialAndServe opens one secure-shell session, requests the reverse
// forward, and runs the accept loop until it either stops cleanly (signal)
// or faults (returns stopped=false, err=nil to request a restart at the
// caller, or a non-nil err for a fatal setup failure).
func (s *Supervisor) dialAndServe(sigCh <-chan os.Signal) (stopped bool, err error) {
	client, err := s.dial()
	if err != nil {
		return false, rherrors.NewSshDialError(s.cfg.SSHHost, s.cfg.SSHPort, err)
	}
	s.client = client
	defer client.Close()

	ln, err := client.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", s.cfg.ProxyPort))
	if err != nil {
		return false, rherrors.NewSshDialError(s.cfg.SSHHost, s.cfg.SSHPort, fmt.Errorf("reverse-forward %d: %w", s.cfg.ProxyPort, err))
	}
	defer ln.Close()

	return s.acceptLoop(ln, sigCh)
}

// dial opens the outbound secure-shell client connection, loading system
// host keys and warning (but proceeding) on an unknown host key.
func (s *Supervisor) dial() (*ssh.Client, error) {
	hostKeyCallback := s.hostKeyCallback()
	signer, err := ssh.NewSignerFromKey(s.cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            s.cfg.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         constants.DefaultSocketTimeout,
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.SSHHost, s.cfg.SSHPort)
	return ssh.Dial("tcp", addr, config)
}

// hostKeyCallback loads the user's known_hosts file when available; an
// unknown or missing host key logs a warning and is accepted anyway.
func (s *Supervisor) hostKeyCallback() ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err != nil {
		return s.warnOnlyCallback()
	}
	cb, err := knownhosts.New(home + "/.ssh/known_hosts")
	if err != nil {
		return s.warnOnlyCallback()
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := cb(hostname, remote, key); err != nil {
			s.log.WithError(err).Warn("unrecognized secure-shell host key, proceeding anyway")
		}
		return nil
	}
}

func (s *Supervisor) warnOnlyCallback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		s.log.Warn("no known_hosts available to verify secure-shell host key, proceeding anyway")
		return nil
	}
}

// deadlineListener is implemented by listeners that support a bounded
// per-accept wait (e.g. *net.TCPListener); the secure-shell reverse-forward
// listener does not, and acceptLoop falls back to a plain blocking Accept
// for it, unblocked only by the listener's own Close.
type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// acceptLoop accepts inbound channels and hands each to a detached
// proxyconn.Connection worker. It returns (true, nil) on a clean signal
// stop, or (false, nil) to request a restart after a transport fault.
func (s *Supervisor) acceptLoop(ln net.Listener, sigCh <-chan os.Signal) (stopped bool, err error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	dl, boundable := ln.(deadlineListener)
	results := make(chan acceptResult)
	go func() {
		for {
			if boundable {
				dl.SetDeadline(time.Now().Add(constants.AcceptTimeout))
			}
			conn, aerr := ln.Accept()
			if aerr != nil {
				if ne, ok := aerr.(net.Error); ok && ne.Timeout() {
					continue
				}
				results <- acceptResult{nil, aerr}
				return
			}
			results <- acceptResult{conn, nil}
		}
	}()

	for {
		select {
		case sig := <-sigCh:
			s.log.WithError(rherrors.NewSignalStop(sig.String())).Info("received stop signal")
			return true, nil
		case r := <-results:
			if r.err != nil {
				s.log.WithError(rherrors.NewTransportError("accept", r.err)).Warn("accept loop fault")
				return false, nil
			}
			go s.serveChannel(r.conn)
		}
	}
}

func (s *Supervisor) serveChannel(client net.Conn) {
	log := s.log.WithField("remote", client.RemoteAddr().String())
	conn := proxyconn.New(client, constants.ProductName, constants.Version, log)
	conn.Serve()
}

func (s *Supervisor) unreserveBestEffort(proxyPort int) {
	if err := s.control.Unreserve(s.creds, proxyPort); err != nil {
		s.log.WithError(err).Warn("unreserve failed")
	}
}

package sshtunnel

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/appurify/go-tunnel/pkg/control"
	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(testDiscard{})
	return logrus.NewEntry(l)
}

type testDiscard struct{}

func (testDiscard) Write(p []byte) (int, error) { return len(p), nil }

// fakeControl is a reservationClient whose Unreserve calls are countable,
// standing in for *control.Client's network round trip.
type fakeControl struct {
	unreserveCalls int
	unreserveErr   error
}

func (f *fakeControl) Reserve(control.Credentials) (*control.Reservation, error) {
	return nil, nil
}

func (f *fakeControl) Unreserve(_ control.Credentials, _ int) error {
	f.unreserveCalls++
	return f.unreserveErr
}

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "0.0.0.0:0" }

// fakeListener hands back either a queued connection or a queued error from
// Accept, letting a test drive the accept loop's fault/success paths without
// a real secure-shell session.
type fakeListener struct {
	conns chan net.Conn
	errs  chan error
}

func newFakeListener() *fakeListener {
	return &fakeListener{conns: make(chan net.Conn, 1), errs: make(chan error, 1)}
}

func (f *fakeListener) Accept() (net.Conn, error) {
	select {
	case c := <-f.conns:
		return c, nil
	case err := <-f.errs:
		return nil, err
	}
}

func (f *fakeListener) Close() error   { return nil }
func (f *fakeListener) Addr() net.Addr { return fakeAddr{} }

func TestAcceptLoop_TransportFaultTriggersRestart(t *testing.T) {
	s := &Supervisor{log: testLog()}
	ln := newFakeListener()
	ln.errs <- errors.New("connection reset by peer")

	sigCh := make(chan os.Signal, 1)
	stopped, err := s.acceptLoop(ln, sigCh)
	if err != nil {
		t.Fatalf("acceptLoop() error = %v, want nil", err)
	}
	if stopped {
		t.Fatal("acceptLoop() stopped = true, want false (restart requested)")
	}
}

func TestAcceptLoop_SignalStop(t *testing.T) {
	s := &Supervisor{log: testLog()}
	ln := newFakeListener()

	sigCh := make(chan os.Signal, 1)
	sigCh <- syscall.SIGTERM

	stopped, err := s.acceptLoop(ln, sigCh)
	if err != nil {
		t.Fatalf("acceptLoop() error = %v, want nil", err)
	}
	if !stopped {
		t.Fatal("acceptLoop() stopped = false, want true")
	}
}

func TestRunSessions_TransportFaultTriggersRestart(t *testing.T) {
	fc := &fakeControl{}
	s := &Supervisor{control: fc, log: testLog()}

	calls := 0
	s.session = func(sigCh <-chan os.Signal) (bool, error) {
		calls++
		if calls < 3 {
			return false, nil // transport fault, ask the caller to restart
		}
		return true, nil // third session ends in a clean signal stop
	}

	code := s.runSessions(make(chan os.Signal, 1), 9001)
	if code != 0 {
		t.Fatalf("runSessions() = %d, want 0", code)
	}
	if calls != 3 {
		t.Fatalf("session called %d times, want 3", calls)
	}
	if s.retries != 2 {
		t.Fatalf("retries = %d, want 2", s.retries)
	}
	if fc.unreserveCalls != 1 {
		t.Fatalf("unreserve called %d times, want 1", fc.unreserveCalls)
	}
}

func TestRunSessions_MaxRestartsExhaustedReturnsZero(t *testing.T) {
	fc := &fakeControl{}
	s := &Supervisor{control: fc, log: testLog()}

	calls := 0
	s.session = func(sigCh <-chan os.Signal) (bool, error) {
		calls++
		return false, nil // every session faults; never a clean stop
	}

	code := s.runSessions(make(chan os.Signal, 1), 9001)
	if code != 0 {
		t.Fatalf("runSessions() = %d, want 0", code)
	}
	if s.retries != maxRestarts {
		t.Fatalf("retries = %d, want %d", s.retries, maxRestarts)
	}
	if calls != maxRestarts+1 {
		t.Fatalf("session called %d times, want %d", calls, maxRestarts+1)
	}
	if fc.unreserveCalls != 1 {
		t.Fatalf("unreserve called %d times, want 1", fc.unreserveCalls)
	}
}

func TestRunSessions_SignalStopUnreserves(t *testing.T) {
	fc := &fakeControl{}
	s := &Supervisor{control: fc, log: testLog()}
	s.session = func(sigCh <-chan os.Signal) (bool, error) {
		return true, nil // clean signal-driven stop, first try
	}

	code := s.runSessions(make(chan os.Signal, 1), 9001)
	if code != 0 {
		t.Fatalf("runSessions() = %d, want 0", code)
	}
	if s.retries != 0 {
		t.Fatalf("retries = %d, want 0", s.retries)
	}
	if fc.unreserveCalls != 1 {
		t.Fatalf("unreserve called %d times, want 1", fc.unreserveCalls)
	}
}

func TestRunSessions_FatalSetupErrorUnreservesAndReturnsOne(t *testing.T) {
	fc := &fakeControl{}
	s := &Supervisor{control: fc, log: testLog()}
	s.session = func(sigCh <-chan os.Signal) (bool, error) {
		return false, errors.New("secure-shell handshake failed")
	}

	code := s.runSessions(make(chan os.Signal, 1), 9001)
	if code != 1 {
		t.Fatalf("runSessions() = %d, want 1", code)
	}
	if fc.unreserveCalls != 1 {
		t.Fatalf("unreserve called %d times, want 1", fc.unreserveCalls)
	}
}

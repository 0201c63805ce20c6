package sshtunnel

import (
	"os"
	"os/signal"
	"syscall"
)

// stopSignals is interrupt, terminate, and hangup — all three are treated
// as a clean stop request.
var stopSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

// watchSignals hands back a channel instead of raising an exception: the
// buffered channel (capacity 1) receives each stop signal, and delivery
// continues until the caller invokes the returned stop func.
func watchSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, stopSignals...)
	return ch, func() { signal.Stop(ch) }
}

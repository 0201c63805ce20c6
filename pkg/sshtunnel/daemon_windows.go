package sshtunnel

// Daemonize is a no-op on Windows; the --daemon flag is accepted but ignored.
func Daemonize() error {
	return nil
}

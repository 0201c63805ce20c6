package sshtunnel

import (
	"crypto/rsa"

	"github.com/appurify/go-tunnel/pkg/control"
)

// Config is the reservation result: everything needed to open the outbound
// secure-shell session and request the reverse port forward. It lives for
// exactly one reservation — produced by a successful Reserve call, released
// when the supervisor unreserves.
type Config struct {
	SSHHost    string
	SSHPort    int
	SSHUser    string
	PrivateKey *rsa.PrivateKey
	ProxyPort  int
}

// NewConfig reconstructs a Config from a tunnel/reserve response.
func NewConfig(r *control.Reservation) (*Config, error) {
	key, err := reconstructPrivateKey(r.Key)
	if err != nil {
		return nil, err
	}
	return &Config{
		SSHHost:    r.SSHHost,
		SSHPort:    r.SSHPort,
		SSHUser:    r.SSHUser,
		PrivateKey: key,
		ProxyPort:  r.ProxyPort,
	}, nil
}

// Package tlsconfig builds the *tls.Config used by pkg/control when talking
// to the reservation API over HTTPS.
package tlsconfig

import "crypto/tls"

// VersionProfile pins a min/max TLS version range.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

// ProfileSecure is the only profile this module uses: TLS 1.2+ with the
// ECDHE/AEAD cipher suites, matching what the control API requires.
var ProfileSecure = VersionProfile{
	Min:         tls.VersionTLS12,
	Max:         tls.VersionTLS13,
	Description: "TLS 1.2+ - secure and widely compatible",
}

// secureCipherSuites is used for the TLS 1.2 leg of ProfileSecure; TLS 1.3
// negotiates its own suites and ignores this list.
var secureCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// NewSecureConfig returns a *tls.Config pinned to ProfileSecure.
func NewSecureConfig() *tls.Config {
	cfg := &tls.Config{}
	ApplyVersionProfile(cfg, ProfileSecure)
	cfg.CipherSuites = secureCipherSuites
	return cfg
}

// ApplyVersionProfile applies a version profile to an existing tls.Config.
func ApplyVersionProfile(config *tls.Config, profile VersionProfile) {
	config.MinVersion = profile.Min
	config.MaxVersion = profile.Max
}

// Package constants defines magic numbers and default values shared by the tunnel
// and its embedded proxy.
package constants

import "time"

// Socket and accept timeouts.
const (
	DefaultSocketTimeout = 5 * time.Second
	AcceptTimeout        = 1 * time.Second
	ReadinessTimeout     = 1 * time.Second
	MaxInactivity        = 30 * time.Second
	MaxRecvBytes         = 8192
)

// Retry policy for the tunnel supervisor.
const (
	MaxRestarts = 5
)

// Control API defaults, overridable via APPURIFY_API_* environment variables.
const (
	DefaultAPIProto       = "https"
	DefaultAPIHost        = "live.appurify.com"
	DefaultAPIPort        = 443
	DefaultAPIRetryOnFail = true
	DefaultAPIMaxRetry    = 3
	DefaultAPIRetryDelay  = 1 * time.Second
	DefaultAPIPollDelay   = 15 * time.Second
	DefaultAPITimeout     = 30 * time.Second
)

// ProductName and Version identify this build on the wire (Proxy-agent header,
// control-API User-Agent).
const (
	ProductName = "go-tunnel"
	Version     = "1.0.0"
)

// Package control is a thin HTTP POST helper against the device-testing
// cloud's reservation API. It only implements the two calls the tunnel
// needs — tunnel/reserve and tunnel/unreserve — the rest of that REST
// surface belongs to the out-of-scope upload/poll collaborator.
package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/appurify/go-tunnel/pkg/constants"
	rherrors "github.com/appurify/go-tunnel/pkg/errors"
	"github.com/appurify/go-tunnel/pkg/tlsconfig"
)

// Config gathers the APPURIFY_API_* environment variables read once at
// client construction. No package-level globals; every Client owns its Config.
type Config struct {
	Proto       string
	Host        string
	Port        int
	RetryOnFail bool
	MaxRetry    int
	RetryDelay  time.Duration
	PollDelay   time.Duration
	Timeout     time.Duration
}

// ConfigFromEnv reads APPURIFY_API_{PROTO,HOST,PORT,RETRY_ON_FAILURE,
// MAX_RETRY,RETRY_DELAY,POLL_DELAY,TIMEOUT} with the defaults from
// pkg/constants when unset or unparsable.
func ConfigFromEnv() Config {
	cfg := Config{
		Proto:       constants.DefaultAPIProto,
		Host:        constants.DefaultAPIHost,
		Port:        constants.DefaultAPIPort,
		RetryOnFail: constants.DefaultAPIRetryOnFail,
		MaxRetry:    constants.DefaultAPIMaxRetry,
		RetryDelay:  constants.DefaultAPIRetryDelay,
		PollDelay:   constants.DefaultAPIPollDelay,
		Timeout:     constants.DefaultAPITimeout,
	}
	if v := os.Getenv("APPURIFY_API_PROTO"); v != "" {
		cfg.Proto = v
	}
	if v := os.Getenv("APPURIFY_API_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("APPURIFY_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("APPURIFY_API_RETRY_ON_FAILURE"); v != "" {
		cfg.RetryOnFail = isTruthy(v)
	}
	if v := os.Getenv("APPURIFY_API_MAX_RETRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetry = n
		}
	}
	if v := os.Getenv("APPURIFY_API_RETRY_DELAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryDelay = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("APPURIFY_API_POLL_DELAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollDelay = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("APPURIFY_API_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	return cfg
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// BaseURL returns <proto>://<host>:<port>/resource/<path>/
func (c Config) BaseURL(path string) string {
	return fmt.Sprintf("%s://%s:%d/resource/%s/", c.Proto, c.Host, c.Port, path)
}

// Credentials carries exactly one of the two mutually exclusive
// authentication pairs the CLI accepts.
type Credentials struct {
	APIKey    string
	APISecret string
	Username  string
	Password  string
}

func (c Credentials) form() url.Values {
	v := url.Values{}
	if c.APIKey != "" {
		v.Set("key", c.APIKey)
		v.Set("secret", c.APISecret)
		return v
	}
	v.Set("username", c.Username)
	v.Set("password", c.Password)
	return v
}

// KeyComponents is the RSA key material returned by tunnel/reserve, named to
// match the wire field names (e, n, d, p, q).
type KeyComponents struct {
	E string `json:"e"`
	N string `json:"n"`
	D string `json:"d"`
	P string `json:"p"`
	Q string `json:"q"`
}

// Reservation is the decoded `response` payload of a successful
// tunnel/reserve call.
type Reservation struct {
	SSHHost   string        `json:"ssh_host"`
	SSHPort   int           `json:"ssh_port"`
	SSHUser   string        `json:"ssh_user"`
	Key       KeyComponents `json:"key"`
	ProxyPort int           `json:"proxy_port"`
}

type envelope struct {
	Response json.RawMessage `json:"response"`
}

// Client is a form-POST helper against the reservation API. One Client per
// Credentials/Config pair; no shared mutable state.
type Client struct {
	cfg        Config
	httpClient *http.Client
	userAgent  string
}

// New builds a Client. product/version name the running tunnel binary for
// the User-Agent header, matching the Proxy-agent banner format used
// elsewhere on the wire.
func New(cfg Config, product, version string) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsconfig.NewSecureConfig(),
			},
		},
		userAgent: fmt.Sprintf("%s/%s (%s) %s/%s", product, version, runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

// Reserve POSTs the caller's credentials to tunnel/reserve. A non-200
// response is wrapped as a fatal ReservationError.
func (c *Client) Reserve(creds Credentials) (*Reservation, error) {
	var resv Reservation
	if err := c.postWithRetry("tunnel/reserve", creds.form(), &resv); err != nil {
		return nil, rherrors.NewReservationError("reserve", err)
	}
	return &resv, nil
}

// Unreserve releases a previously reserved proxy port. Best-effort: failures
// are returned to the caller to log, never retried beyond the normal retry
// policy, and never treated as fatal.
func (c *Client) Unreserve(creds Credentials, proxyPort int) error {
	form := creds.form()
	form.Set("proxy_port", strconv.Itoa(proxyPort))
	if err := c.postWithRetry("tunnel/unreserve", form, nil); err != nil {
		return rherrors.NewReservationError("unreserve", err)
	}
	return nil
}

func (c *Client) postWithRetry(path string, form url.Values, out interface{}) error {
	attempts := 1
	if c.cfg.RetryOnFail {
		attempts = c.cfg.MaxRetry + 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(c.cfg.RetryDelay)
		}
		err := c.post(path, form, out)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) post(path string, form url.Values, out interface{}) error {
	req, err := http.NewRequest(http.MethodPost, c.cfg.BaseURL(path), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control endpoint %s returned %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding control response: %w", err)
	}
	return json.Unmarshal(env.Response, out)
}

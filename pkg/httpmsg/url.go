package httpmsg

import (
	"net"
	"net/url"
)

// URL is the decomposed request target: origin-form, absolute-form, or the
// authority-form used by CONNECT.
type URL struct {
	Scheme   string
	Host     string
	Port     string
	Path     string
	Query    string
	Fragment string
}

// parseRequestTarget decomposes a request-target permissively. It never fails
// outright; an unparsable target simply yields a nil URL.
func parseRequestTarget(method, target string) *URL {
	if target == "" {
		return nil
	}

	if method == "CONNECT" {
		host, port, err := net.SplitHostPort(target)
		if err != nil {
			return &URL{Host: target}
		}
		return &URL{Host: host, Port: port}
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil
	}

	if u.Host == "" {
		// origin-form: path[?query][#fragment]
		return &URL{Path: u.Path, Query: u.RawQuery, Fragment: u.Fragment}
	}

	return &URL{
		Scheme:   u.Scheme,
		Host:     u.Hostname(),
		Port:     u.Port(),
		Path:     u.Path,
		Query:    u.RawQuery,
		Fragment: u.Fragment,
	}
}

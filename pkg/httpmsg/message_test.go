package httpmsg

import (
	"bytes"
	"testing"
)

func TestRequest_FullGetRoundTrip(t *testing.T) {
	in := "GET https://example.com/path/dir/?a=b&c=d#p=q HTTP/1.1\r\nHost: example.com\r\n\r\n"

	m := NewRequest()
	if err := m.Parse([]byte(in)); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Method != "GET" {
		t.Errorf("Method = %q, want GET", m.Method)
	}
	if m.URL == nil || m.URL.Host != "example.com" {
		t.Fatalf("URL.Host = %+v, want example.com", m.URL)
	}
	if m.URL.Port != "" {
		t.Errorf("URL.Port = %q, want empty", m.URL.Port)
	}
	if m.Version != "HTTP/1.1" {
		t.Errorf("Version = %q, want HTTP/1.1", m.Version)
	}
	if m.State() != Complete {
		t.Fatalf("State() = %v, want Complete", m.State())
	}
	if got := m.BuildRequestTarget(); got != "/path/dir/?a=b&c=d#p=q" {
		t.Errorf("BuildRequestTarget() = %q, want /path/dir/?a=b&c=d#p=q", got)
	}

	rebuilt := m.Build([]string{"host"}, [][2]string{{"Host", "example.com"}})
	want := "GET /path/dir/?a=b&c=d#p=q HTTP/1.1\r\nHost: example.com\r\n\r\n"
	if string(rebuilt) != want {
		t.Errorf("Build() = %q, want %q", rebuilt, want)
	}
}

func TestRequest_ByteByByteSplit(t *testing.T) {
	m := NewRequest()

	if err := m.Parse([]byte("GET http://localhost:8080 HTTP/1.1")); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.State() != Initialized {
		t.Fatalf("State() = %v, want Initialized", m.State())
	}

	if err := m.Parse([]byte("\r\n")); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.State() != LineRcvd {
		t.Fatalf("State() = %v, want LineRcvd", m.State())
	}
	if m.URL == nil || m.URL.Port != "8080" {
		t.Fatalf("URL.Port = %+v, want 8080", m.URL)
	}

	if err := m.Parse([]byte("Host: localhost:8080")); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Headers.Len() != 0 {
		t.Errorf("Headers.Len() = %d, want 0 (line not yet terminated)", m.Headers.Len())
	}
	if string(m.carry) != "Host: localhost:8080" {
		t.Errorf("carry = %q, want %q", m.carry, "Host: localhost:8080")
	}

	if err := m.Parse([]byte("\r\n\r\n")); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.State() != Complete {
		t.Fatalf("State() = %v, want Complete", m.State())
	}
}

func TestRequest_PostContentLength(t *testing.T) {
	in := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 7\r\n\r\na=b&c=d"
	for split := 0; split < len(in); split++ {
		m := NewRequest()
		if err := m.Parse([]byte(in[:split])); err != nil {
			t.Fatalf("split %d: error = %v", split, err)
		}
		wantComplete := split >= len(in)
		if (m.State() == Complete) != wantComplete {
			t.Fatalf("split %d: State() = %v mid-feed", split, m.State())
		}
		if err := m.Parse([]byte(in[split:])); err != nil {
			t.Fatalf("split %d: error = %v", split, err)
		}
		if m.State() != Complete {
			t.Fatalf("split %d: final State() = %v, want Complete", split, m.State())
		}
		if string(m.Body) != "a=b&c=d" {
			t.Errorf("split %d: Body = %q, want a=b&c=d", split, m.Body)
		}
	}
}

func TestResponse_ChunkedBody(t *testing.T) {
	in := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\n\r\n"

	m := NewResponse()
	if err := m.Parse([]byte(in)); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.State() != Complete {
		t.Fatalf("State() = %v, want Complete", m.State())
	}
	want := "Wikipedia in\r\n\r\nchunks."
	if !bytes.Equal(m.Body, []byte(want)) {
		t.Errorf("Body = %q, want %q", m.Body, want)
	}
}

func TestBuildRequestTarget_NoneSentinel(t *testing.T) {
	m := NewRequest()
	if got := m.BuildRequestTarget(); got != "/None" {
		t.Errorf("BuildRequestTarget() = %q, want /None", got)
	}
}

func TestParse_RawPreservesExactBytes(t *testing.T) {
	in := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	for split := 0; split <= len(in); split++ {
		m := NewRequest()
		m.Parse([]byte(in[:split]))
		m.Parse([]byte(in[split:]))
		if string(m.Raw) != in {
			t.Fatalf("split %d: Raw = %q, want %q", split, m.Raw, in)
		}
	}
}

package proxyconn

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestConnect_TunnelEstablishedAndRelays(t *testing.T) {
	clientSide, proxySide := net.Pipe()
	defer clientSide.Close()

	upstreamSide, proxyUpstream := net.Pipe()
	defer upstreamSide.Close()

	dialer := func(network, addr string) (net.Conn, error) {
		if addr != "httpbin.org:80" {
			t.Errorf("dial addr = %q, want httpbin.org:80", addr)
		}
		return proxyUpstream, nil
	}

	conn := New(proxySide, "go-tunnel", "1.0.0", nil, WithDialer(dialer))
	done := make(chan struct{})
	go func() {
		conn.Serve()
		close(done)
	}()

	clientSide.SetDeadline(time.Now().Add(5 * time.Second))
	upstreamSide.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := clientSide.Write([]byte("CONNECT httpbin.org:80 HTTP/1.1\r\nHost: httpbin.org:80\r\n\r\n")); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	want := "HTTP/1.1 200 Connection established\r\nProxy-agent: go-tunnel/1.0.0\r\n\r\n"
	got := make([]byte, len(want))
	if _, err := io.ReadFull(clientSide, got); err != nil {
		t.Fatalf("reading established banner: %v", err)
	}
	if string(got) != want {
		t.Fatalf("banner = %q, want %q", got, want)
	}

	if _, err := clientSide.Write([]byte("hello")); err != nil {
		t.Fatalf("write to tunnel: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(upstreamSide, buf); err != nil {
		t.Fatalf("reading relayed bytes upstream: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("upstream got %q, want hello", buf)
	}

	if _, err := upstreamSide.Write([]byte("world")); err != nil {
		t.Fatalf("write from upstream: %v", err)
	}
	if _, err := io.ReadFull(clientSide, buf); err != nil {
		t.Fatalf("reading relayed bytes at client: %v", err)
	}
	if string(buf) != "world" {
		t.Fatalf("client got %q, want world", buf)
	}

	clientSide.Close()
	upstreamSide.Close()
	<-done
}

func TestForward_UnreachableUpstreamReturns502(t *testing.T) {
	clientSide, proxySide := net.Pipe()
	defer clientSide.Close()

	dialer := func(network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	conn := New(proxySide, "go-tunnel", "1.0.0", nil, WithDialer(dialer))
	done := make(chan struct{})
	go func() {
		conn.Serve()
		close(done)
	}()

	clientSide.SetDeadline(time.Now().Add(5 * time.Second))
	req := "GET http://unknown.domain/ HTTP/1.1\r\nHost: unknown.domain\r\n\r\n"
	if _, err := clientSide.Write([]byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reader := bufio.NewReader(clientSide)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(line, "HTTP/1.1 502 Bad Gateway") {
		t.Fatalf("status line = %q, want 502 Bad Gateway", line)
	}

	<-done
}

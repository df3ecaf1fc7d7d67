package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/protocol"
)

// startBackend 는 연결마다 serve 를 실행하는 TCP 백엔드를 띄웁니다.
func startBackend(t *testing.T, serve func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				serve(c)
			}()
		}
	}()
	return ln.Addr().String()
}

// refusedAddr 는 아무도 listen 하지 않는 주소를 반환합니다.
func refusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func readRequestHead(c net.Conn) []byte {
	var buf []byte
	chunk := make([]byte, 512)
	for !bytes.Contains(buf, []byte("\r\n\r\n")) {
		n, err := c.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf
}

func newRequest(raw string) *protocol.Request {
	return &protocol.Request{Raw: []byte(raw)}
}

func TestHandleRelaysBackendBytesVerbatim(t *testing.T) {
	const reply = "HTTP/1.1 200 OK\r\nX-Backend: one\r\nContent-Length: 5\r\n\r\nhello"
	seen := make(chan []byte, 1)
	addr := startBackend(t, func(c net.Conn) {
		seen <- readRequestHead(c)
		io.WriteString(c, reply)
	})

	h := NewHandler(logging.Nop(), NewResolver(NewTable(map[string]Route{
		"app1.local": {Backends: []string{addr}},
	}, "")), NewForwarder(logging.Nop(), time.Second), ":8080")

	raw := "GET /x HTTP/1.1\r\nhOsT: app1.local\r\nX-Keep: Me\r\n\r\n"
	out := h.Handle(context.Background(), newRequest(raw), nil).Bytes()
	if string(out) != reply {
		t.Errorf("relayed %q, want %q", out, reply)
	}
	if got := <-seen; string(got) != raw {
		t.Errorf("backend saw %q, want original bytes %q", got, raw)
	}
}

func TestHandleRefusedBackendIsFixed404(t *testing.T) {
	h := NewHandler(logging.Nop(), NewResolver(NewTable(map[string]Route{
		"app1.local": {Backends: []string{refusedAddr(t)}, Policy: "single"},
	}, "")), NewForwarder(logging.Nop(), time.Second), ":8080")

	out := h.Handle(context.Background(), newRequest("GET / HTTP/1.1\r\nHost: app1.local\r\n\r\n"), nil).Bytes()
	if !bytes.HasPrefix(out, []byte("HTTP/1.1 404 Not Found\r\n")) {
		t.Errorf("status line: %q", out)
	}
	if !bytes.Contains(out, []byte("Content-Length: 13\r\n")) || !bytes.HasSuffix(out, []byte("\r\n\r\n404 Not Found")) {
		t.Errorf("unexpected 404 payload: %q", out)
	}
}

func TestHandleMissingHostUsesBindAddress(t *testing.T) {
	addr := startBackend(t, func(c net.Conn) {
		readRequestHead(c)
		io.WriteString(c, "HTTP/1.1 204 No Content\r\n\r\n")
	})
	h := NewHandler(logging.Nop(), NewResolver(NewTable(map[string]Route{
		"0.0.0.0:8080": {Backends: []string{addr}},
	}, refusedAddr(t))), NewForwarder(logging.Nop(), time.Second), ":8080")

	out := h.Handle(context.Background(), newRequest("GET / HTTP/1.1\r\nAccept: */*\r\n\r\n"), nil).Bytes()
	if protocol.ParseStatusCode(out) != 204 {
		t.Errorf("bind address route not used: %q", out)
	}
}

func TestForwardSilentBackendTimesOut(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	addr := startBackend(t, func(c net.Conn) {
		readRequestHead(c)
		<-release
	})

	f := NewForwarder(logging.Nop(), 100*time.Millisecond)
	start := time.Now()
	_, err := f.Forward(context.Background(), addr, []byte("GET / HTTP/1.1\r\n\r\n"))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("forward did not respect the deadline")
	}
}

func TestForwardRelaysPartialBytesOnDeadline(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	addr := startBackend(t, func(c net.Conn) {
		readRequestHead(c)
		io.WriteString(c, "HTTP/1.1 200 OK\r\n")
		<-release
	})

	f := NewForwarder(logging.Nop(), 100*time.Millisecond)
	out, err := f.Forward(context.Background(), addr, []byte("GET / HTTP/1.1\r\n\r\n"))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if string(out) != "HTTP/1.1 200 OK\r\n" {
		t.Errorf("partial = %q", out)
	}
}

func TestForwardResponseLimit(t *testing.T) {
	addr := startBackend(t, func(c net.Conn) {
		readRequestHead(c)
		io.WriteString(c, strings.Repeat("x", 4096))
	})
	f := NewForwarder(logging.Nop(), time.Second)
	f.MaxResponseBytes = 1024
	if _, err := f.Forward(context.Background(), addr, []byte("GET / HTTP/1.1\r\n\r\n")); !errors.Is(err, ErrResponseTooLarge) {
		t.Errorf("err = %v, want ErrResponseTooLarge", err)
	}
}

func TestHostFromRaw(t *testing.T) {
	cases := map[string]string{
		"GET / HTTP/1.1\r\nHost: a.local\r\n\r\n":                  "a.local",
		"GET / HTTP/1.1\r\nHOST:b.local:8080\r\n\r\n":              "b.local:8080",
		"GET / HTTP/1.1\r\nX-Host: no\r\nhost: c.local\r\n\r\n":    "c.local",
		"GET / HTTP/1.1\r\nHost: first\r\nHost: second\r\n\r\n":    "first",
		"GET / HTTP/1.1\r\nAccept: */*\r\n\r\nHost: in-body.local": "",
		"GET / HTTP/1.1\r\n\r\n":                                   "",
		"Host: request-line-is-not-a-header\r\n\r\n":               "",
	}
	for raw, want := range cases {
		if got := HostFromRaw([]byte(raw)); got != want {
			t.Errorf("HostFromRaw(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestFallbackHost(t *testing.T) {
	cases := map[string]string{
		":8080":          "0.0.0.0:8080",
		"127.0.0.1:9090": "127.0.0.1:9090",
		"[::1]:80":       "[::1]:80",
	}
	for in, want := range cases {
		if got := FallbackHost(in); got != want {
			t.Errorf("FallbackHost(%q) = %q, want %q", in, got, want)
		}
	}
}

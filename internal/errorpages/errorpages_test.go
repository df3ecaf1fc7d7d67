package errorpages

import (
	"bytes"
	"testing"
	"time"
)

func TestProxyNotFoundWireBytes(t *testing.T) {
	want := "HTTP/1.1 404 Not Found\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 13\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		"404 Not Found"
	if got := string(ProxyNotFound().Bytes()); got != want {
		t.Errorf("ProxyNotFound wire =\n%q\nwant\n%q", got, want)
	}
}

func TestFixedBodies(t *testing.T) {
	nf := NotFound()
	if nf.StatusCode != 404 || string(nf.Body) != NotFoundBody {
		t.Errorf("NotFound = %d %q", nf.StatusCode, nf.Body)
	}
	if nf.Header.Get("Content-Type") != "text/html" {
		t.Errorf("NotFound content type = %q", nf.Header.Get("Content-Type"))
	}

	now := time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC)
	un := Unauthorized(now)
	if un.StatusCode != 401 || string(un.Body) != UnauthorizedBody {
		t.Errorf("Unauthorized = %d %q", un.StatusCode, un.Body)
	}
	if !bytes.Contains(un.Bytes(), []byte("Date: Sat, 07 Jun 2025 08:09:10 GMT\r\n")) {
		t.Errorf("Unauthorized missing Date header: %q", un.Bytes())
	}
}

func TestRender(t *testing.T) {
	resp := Render(500)
	if resp.StatusCode != 500 || string(resp.Body) != "500 Internal Server Error" {
		t.Errorf("Render(500) = %d %q", resp.StatusCode, resp.Body)
	}
}

package content

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dalbodeule/weaprous-gate/internal/logging"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newTestBuilder 는 www/static/apps 루트와 루트 밖의 secret 파일을 가진 Builder 를 만듭니다.
func newTestBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	base := t.TempDir()
	roots := Roots{
		Pages:  filepath.Join(base, "www"),
		Static: filepath.Join(base, "static"),
		Apps:   filepath.Join(base, "apps"),
	}
	writeFile(t, filepath.Join(roots.Pages, "index.html"), "<h1>index</h1>")
	writeFile(t, filepath.Join(roots.Static, "css", "style.css"), "body{}")
	writeFile(t, filepath.Join(roots.Static, "images", "favicon.ico"), "ICO")
	writeFile(t, filepath.Join(roots.Static, "js", "app.js"), "console.log(1)")
	writeFile(t, filepath.Join(roots.Apps, "module.wasm"), "\x00asm")
	writeFile(t, filepath.Join(base, "secret.txt"), "top secret")
	writeFile(t, filepath.Join(base, "static2", "leak.css"), "leak")

	b := NewBuilder(logging.Nop(), roots)
	b.Now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return b, base
}

func TestMIMEType(t *testing.T) {
	cases := map[string]string{
		"/index.html":         "text/html",
		"/images/favicon.ico": "image/x-icon",
		"/js/app.js":          "application/javascript",
		"/data/report.CSV":    "text/csv",
		"/noext":              DefaultMIME,
		"/weird.zzzunknown":   DefaultMIME,
	}
	for in, want := range cases {
		if got := MIMEType(in); got != want {
			t.Errorf("MIMEType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		mime string
		want Category
		err  bool
	}{
		{"text/html", CategoryPages, false},
		{"text/css", CategoryStatic, false},
		{"text/markdown", CategoryStatic, false},
		{"image/png", CategoryStatic, false},
		{"video/mp4", CategoryStatic, false},
		{"application/json", CategoryStatic, false},
		{"application/octet-stream", CategoryStatic, false},
		{"application/wasm", CategoryApps, false},
		{"font/woff2", 0, true},
		{"garbage", 0, true},
	}
	for _, tc := range cases {
		got, err := CategoryOf(tc.mime)
		if tc.err {
			if !errors.Is(err, ErrUnsupportedMIME) {
				t.Errorf("CategoryOf(%q) err = %v, want ErrUnsupportedMIME", tc.mime, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("CategoryOf(%q) = %v, %v; want %v", tc.mime, got, err, tc.want)
		}
	}
}

func TestServeResolvesCategoryRoots(t *testing.T) {
	b, _ := newTestBuilder(t)
	cases := map[string]string{
		"/index.html":         "<h1>index</h1>",
		"/css/style.css":      "body{}",
		"/images/favicon.ico": "ICO",
		"/js/app.js":          "console.log(1)",
		"/module.wasm":        "\x00asm",
	}
	for path, want := range cases {
		resp := b.Serve(path, "")
		if resp.StatusCode != 200 {
			t.Errorf("%s: status %d", path, resp.StatusCode)
			continue
		}
		if string(resp.Body) != want {
			t.Errorf("%s: body %q, want %q", path, resp.Body, want)
		}
	}
}

func TestServeAssemblesHeaders(t *testing.T) {
	b, _ := newTestBuilder(t)
	resp := b.Serve("/index.html", "auth=true; Path=/")
	wire := resp.Bytes()

	for _, line := range []string{
		"HTTP/1.1 200 OK\r\n",
		"Content-Type: text/html\r\n",
		"Content-Length: " + strconv.Itoa(len("<h1>index</h1>")) + "\r\n",
		"Cache-Control: no-cache\r\n",
		"Date: Thu, 02 Jan 2025 03:04:05 GMT\r\n",
		"Connection: close\r\n",
		"Set-Cookie: auth=true; Path=/\r\n",
	} {
		if !bytes.Contains(wire, []byte(line)) {
			t.Errorf("response missing %q:\n%s", line, wire)
		}
	}
}

func TestServeRejectsTraversal(t *testing.T) {
	b, _ := newTestBuilder(t)
	for _, p := range []string{
		"/../secret.txt",
		"/../../../../etc/passwd",
		"/css/../../secret.txt",
		"/../static2/leak.css",
		"//../secret.txt",
	} {
		resp := b.Serve(p, "")
		if resp.StatusCode != 404 || string(resp.Body) != "404 Not Found" {
			t.Errorf("%s: got %d %q, want fixed 404", p, resp.StatusCode, resp.Body)
		}
	}

	if _, err := SafeJoin(b.Roots.Static, "/../secret.txt"); !errors.Is(err, ErrTraversal) {
		t.Errorf("SafeJoin err = %v, want ErrTraversal", err)
	}
	inside, err := SafeJoin(b.Roots.Static, "/css/../css/style.css")
	if err != nil || !strings.HasSuffix(inside, filepath.Join("static", "css", "style.css")) {
		t.Errorf("SafeJoin inside root = %q, %v", inside, err)
	}
}

func TestServeNotFound(t *testing.T) {
	b, _ := newTestBuilder(t)
	for _, p := range []string{"/missing.html", "/", "/css", "/font.woff2"} {
		resp := b.Serve(p, "auth=true; Path=/")
		if resp.StatusCode != 404 {
			t.Errorf("%s: status %d, want 404", p, resp.StatusCode)
		}
		if resp.SetCookie != "" {
			t.Errorf("%s: 404 must not carry Set-Cookie", p)
		}
	}
}

func TestServeEmptyFileIsNotFound(t *testing.T) {
	b, _ := newTestBuilder(t)
	writeFile(t, filepath.Join(b.Roots.Pages, "empty.html"), "")

	resp := b.Serve("/empty.html", "")
	if resp.StatusCode != 404 {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
	if _, err := Load(filepath.Join(b.Roots.Pages, "empty.html")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(empty) err = %v, want ErrNotFound", err)
	}
}

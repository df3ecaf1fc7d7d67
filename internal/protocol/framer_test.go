package protocol

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fragmentReader 는 data 를 sizes 에 따라 잘라서 한 번에 한 조각씩 돌려주는 reader 입니다.
// 네트워크에서 요청이 여러 TCP 세그먼트로 나뉘어 도착하는 상황을 흉내냅니다.
type fragmentReader struct {
	data  []byte
	sizes []int
	idx   int
}

func (f *fragmentReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, io.EOF
	}
	n := len(f.data)
	if f.idx < len(f.sizes) && f.sizes[f.idx] < n {
		n = f.sizes[f.idx]
	}
	f.idx++
	if n > len(p) {
		n = len(p)
	}
	copy(p, f.data[:n])
	f.data = f.data[n:]
	return n, nil
}

type staticMatcher struct{ binding HookBinding }

func (m staticMatcher) Match(method, path string) HookBinding {
	if method == "POST" && path == "/chat/register" {
		return m.binding
	}
	return nil
}

type testBinding struct{}

func (testBinding) Pattern() string   { return "/chat/register" }
func (testBinding) Methods() []string { return []string{"POST"} }

func TestReadRequestBodyIndependentOfFragmentation(t *testing.T) {
	body := []byte(`{"username":"alice","p2p_port":5001,"pad":"` + strings.Repeat("x", 5000) + `"}`)
	raw := []byte("POST /chat/register?x=1 HTTP/1.1\r\n" +
		"Host: tracker.local\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"\r\n")
	raw = append(raw, body...)

	splits := [][]int{
		nil,
		{1, 1, 1, 1, 1},
		{10},
		{len(raw) - len(body) - 2, 1, 1, 3},
		{len(raw) - len(body)},
		{7, 4096, 13, 1, 1000},
	}
	f := &Framer{Hooks: staticMatcher{binding: testBinding{}}}

	for i, sizes := range splits {
		r := &fragmentReader{data: append([]byte(nil), raw...), sizes: sizes}
		req, err := f.ReadRequest(r, "10.1.1.1:4000")
		if err != nil {
			t.Fatalf("split %d: ReadRequest: %v", i, err)
		}
		if !bytes.Equal(req.Body, body) {
			t.Fatalf("split %d: body mismatch: got %d bytes, want %d", i, len(req.Body), len(body))
		}
		if !bytes.Equal(req.Raw, raw) {
			t.Fatalf("split %d: raw bytes differ from wire bytes", i)
		}
		if req.Method != "POST" || req.Path != "/chat/register" || req.Query != "x=1" {
			t.Errorf("split %d: request line parsed as %s %s ? %s", i, req.Method, req.Path, req.Query)
		}
		if req.Hook == nil || req.Hook.Pattern() != "/chat/register" {
			t.Errorf("split %d: hook not bound", i)
		}
		if req.RemoteAddr != "10.1.1.1:4000" {
			t.Errorf("split %d: remote addr = %q", i, req.RemoteAddr)
		}
	}
}

func TestReadRequestDropsBytesBeyondContentLength(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nContent-Length: 3\r\n\r\nabcGET /y HTTP/1.1\r\n\r\n"
	req, err := (&Framer{}).ReadRequest(strings.NewReader(raw), "")
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if string(req.Body) != "abc" {
		t.Errorf("body = %q, want abc", req.Body)
	}
}

func TestReadRequestHeadersCaseInsensitiveLastWins(t *testing.T) {
	raw := "GET /index.html HTTP/1.1\r\n" +
		"X-Trace: first\r\n" +
		"x-trace: second\r\n" +
		"Cookie: auth=true; theme=dark; broken; a=b=c\r\n" +
		"no colon line\r\n" +
		"\r\n"
	req, err := (&Framer{}).ReadRequest(strings.NewReader(raw), "")
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got := req.Header.Get("X-TRACE"); got != "second" {
		t.Errorf("X-Trace = %q, want second", got)
	}
	if len(req.Body) != 0 {
		t.Errorf("expected empty body, got %q", req.Body)
	}
	want := map[string]string{"auth": "true", "theme": "dark"}
	if diff := cmp.Diff(want, req.Cookies); diff != "" {
		t.Errorf("cookies mismatch (-want +got):\n%s", diff)
	}
	fields := req.Header.Fields()
	if fields[0].Name != "X-Trace" {
		t.Errorf("original header case not preserved: %q", fields[0].Name)
	}
}

func TestReadRequestAbandonment(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{name: "empty read", raw: "", want: ErrNoRequest},
		{name: "closed before terminator", raw: "GET / HTTP/1.1\r\nHost: a\r\n", want: ErrNoRequest},
		{name: "closed mid body", raw: "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc", want: ErrIncompleteBody},
		{name: "bad content length", raw: "POST / HTTP/1.1\r\nContent-Length: ten\r\n\r\n", want: ErrMalformedRequest},
		{name: "bad request line", raw: "GARBAGE\r\n\r\n", want: ErrMalformedRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := (&Framer{}).ReadRequest(strings.NewReader(tc.raw), "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestReadRequestWrapsTransportError(t *testing.T) {
	cause := errors.New("i/o timeout")
	_, err := (&Framer{}).ReadRequest(errReader{err: cause}, "")
	if !errors.Is(err, ErrNoRequest) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want ErrNoRequest wrapping cause", err)
	}
}

func TestReadRequestHeaderLimit(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 200) + "\r\n\r\n"
	_, err := (&Framer{MaxHeaderBytes: 64}).ReadRequest(strings.NewReader(raw), "")
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("err = %v, want ErrHeaderTooLarge", err)
	}
}

func TestParseForm(t *testing.T) {
	got := ParseForm([]byte("username=admin&password=p%40ss=x&flag&=empty"))
	want := map[string]string{"username": "admin", "password": "p%40ss=x", "": "empty"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("form mismatch (-want +got):\n%s", diff)
	}
}

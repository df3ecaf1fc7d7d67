package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const (
	// DefaultMaxHeaderBytes 는 헤더 블록(요청 라인 포함)의 기본 상한입니다.
	DefaultMaxHeaderBytes = 64 * 1024
	// DefaultMaxBodyBytes 는 Content-Length 로 선언 가능한 본문의 기본 상한입니다.
	DefaultMaxBodyBytes = 16 * 1024 * 1024

	readChunkSize = 4096
)

var headerTerminator = []byte("\r\n\r\n")

var (
	// ErrNoRequest 는 헤더 종료 표식(\r\n\r\n)을 보기 전에 연결이 끝났음을 나타냅니다.
	// 클라이언트가 그냥 끊은 경우이며 응답을 보내지 않습니다.
	ErrNoRequest = errors.New("protocol: connection closed before request headers")

	// ErrIncompleteBody 는 Content-Length 만큼 본문을 받기 전에 연결이 끊겼음을 나타냅니다.
	ErrIncompleteBody = errors.New("protocol: connection closed before full body")

	// ErrHeaderTooLarge 는 헤더 블록이 MaxHeaderBytes 를 넘었음을 나타냅니다.
	ErrHeaderTooLarge = errors.New("protocol: request header block too large")

	// ErrMalformedRequest 는 요청 라인이나 Content-Length 를 해석할 수 없음을 나타냅니다.
	ErrMalformedRequest = errors.New("protocol: malformed request")
)

// Framer 는 스트림 소켓에서 하나의 HTTP 요청을 읽어 Request 로 구성합니다.
// 설정은 시작 시점에 고정되며 여러 goroutine 에서 동시에 사용해도 안전합니다.
type Framer struct {
	MaxHeaderBytes int         // 0 이면 DefaultMaxHeaderBytes
	MaxBodyBytes   int         // 0 이면 DefaultMaxBodyBytes
	Hooks          HookMatcher // nil 이면 hook 매칭을 하지 않습니다.
}

// ReadRequest 는 r 에서 요청 하나를 읽습니다.
//
// 헤더와 본문은 하나의 스트림으로 읽기 때문에, 헤더와 함께 미리 읽힌 본문 바이트도
// 그대로 본문에 포함됩니다. Content-Length 보다 많이 읽힌 바이트는 버립니다
// (파이프라이닝은 지원하지 않습니다).
func (f *Framer) ReadRequest(r io.Reader, remoteAddr string) (*Request, error) {
	maxHeader := f.MaxHeaderBytes
	if maxHeader <= 0 {
		maxHeader = DefaultMaxHeaderBytes
	}
	maxBody := f.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	// 1. \r\n\r\n 이 보일 때까지 읽습니다.
	headerEnd := -1
	var readErr error
	for {
		if i := bytes.Index(buf, headerTerminator); i >= 0 {
			headerEnd = i
			break
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil, ErrNoRequest
			}
			return nil, fmt.Errorf("%w: %w", ErrNoRequest, readErr)
		}
		if len(buf) > maxHeader {
			return nil, ErrHeaderTooLarge
		}
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		readErr = err
	}
	if headerEnd > maxHeader {
		return nil, ErrHeaderTooLarge
	}

	// 2. 첫 \r\n\r\n 에서 헤더 텍스트와 이미 읽힌 본문을 나눕니다.
	req, err := parseHeaderBlock(string(buf[:headerEnd]))
	if err != nil {
		return nil, err
	}
	req.RemoteAddr = remoteAddr

	// 3. Content-Length 만큼 본문을 채웁니다.
	contentLength := 0
	if v, ok := req.Header.Lookup("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid content-length %q", ErrMalformedRequest, v)
		}
		if n > maxBody {
			return nil, fmt.Errorf("%w: content-length %d exceeds limit %d", ErrMalformedRequest, n, maxBody)
		}
		contentLength = n
	}

	bodyStart := headerEnd + len(headerTerminator)
	body := make([]byte, 0, contentLength)
	body = append(body, buf[bodyStart:min(len(buf), bodyStart+contentLength)]...)
	for len(body) < contentLength {
		if readErr != nil {
			return nil, fmt.Errorf("%w: got %d of %d bytes", ErrIncompleteBody, len(body), contentLength)
		}
		n, err := r.Read(chunk)
		need := contentLength - len(body)
		body = append(body, chunk[:min(n, need)]...)
		readErr = err
	}
	req.Body = body

	raw := make([]byte, 0, bodyStart+len(body))
	raw = append(raw, buf[:bodyStart]...)
	req.Raw = append(raw, body...)

	// 4. 쿠키와 hook 을 붙입니다.
	req.Cookies = ParseCookies(req.Header.Get("Cookie"))
	if f.Hooks != nil {
		req.Hook = f.Hooks.Match(req.Method, req.Path)
	}
	return req, nil
}

// parseHeaderBlock 은 요청 라인과 "Key: Value" 헤더 라인들을 해석합니다.
// 형식이 잘못된 헤더 라인은 건너뜁니다.
func parseHeaderBlock(block string) (*Request, error) {
	lines := strings.Split(block, "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	parts := strings.Fields(lines[0])
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, lines[0])
	}
	req := &Request{
		Method:  strings.ToUpper(parts[0]),
		URL:     parts[1],
		Version: "HTTP/1.1",
	}
	if len(parts) == 3 {
		req.Version = parts[2]
	}
	req.Path, req.Query, _ = strings.Cut(req.URL, "?")

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			continue
		}
		req.Header.Set(name, value)
	}
	return req, nil
}

// ParseCookies 는 Cookie 헤더 값을 ";" 로 나눈 뒤 "=" 로 나눠 map 으로 만듭니다.
// "=" 가 정확히 하나가 아닌 쌍은 버립니다.
func ParseCookies(raw string) map[string]string {
	cookies := make(map[string]string)
	if raw == "" {
		return cookies
	}
	for _, pair := range strings.Split(raw, ";") {
		kv := strings.Split(strings.TrimSpace(pair), "=")
		if len(kv) != 2 {
			continue
		}
		cookies[kv[0]] = kv[1]
	}
	return cookies
}

// ParseForm 은 application/x-www-form-urlencoded 본문을 "&" 와 첫 "=" 로 나눕니다.
// percent-decoding 은 하지 않습니다.
func ParseForm(body []byte) map[string]string {
	form := make(map[string]string)
	if len(body) == 0 {
		return form
	}
	for _, pair := range strings.Split(string(body), "&") {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		form[key] = val
	}
	return form
}

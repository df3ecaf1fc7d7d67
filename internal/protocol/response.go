package protocol

import (
	"bytes"
	"strconv"
	"time"
)

// Response 는 직렬화 전의 HTTP 응답입니다.
//
// Content-Length 는 직렬화할 때마다 Body 길이로 다시 계산하며,
// Header 에 들어 있는 값은 신뢰하지 않습니다. Connection: close 도 항상 붙습니다.
type Response struct {
	StatusCode int    // 0 이면 아직 설정되지 않은 상태입니다.
	Reason     string // 비어 있으면 StatusCode 에 맞는 기본 문구를 사용합니다.
	Header     Header
	Body       []byte
	SetCookie  string // 비어 있지 않으면 Set-Cookie 헤더로 내보냅니다.
}

// NewResponse 는 상태 코드와 Content-Type, 본문으로 응답을 만듭니다.
func NewResponse(status int, contentType string, body []byte) *Response {
	resp := &Response{StatusCode: status, Body: body}
	if contentType != "" {
		resp.Header.Set("Content-Type", contentType)
	}
	return resp
}

// SetStatus 는 상태 코드를 설정합니다. hook 이 200 외의 코드를 쓰고 싶을 때 사용합니다.
func (r *Response) SetStatus(code int) {
	r.StatusCode = code
	r.Reason = ""
}

// StatusSet 은 상태 코드가 이미 설정되었는지 반환합니다.
func (r *Response) StatusSet() bool {
	return r.StatusCode != 0
}

// StampStandardHeaders 는 정적 컨텐츠/hook 응답에 공통으로 붙는 헤더를 설정합니다.
func (r *Response) StampStandardHeaders(now time.Time) {
	r.Header.Set("Cache-Control", "no-cache")
	r.Header.Set("Pragma", "no-cache")
	r.Header.Set("Date", now.UTC().Format(RFC1123GMT))
}

// RFC1123GMT 는 Date 헤더 형식입니다.
const RFC1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

// Bytes 는 상태 라인, 헤더, 빈 줄, 본문 순서로 응답을 직렬화합니다.
func (r *Response) Bytes() []byte {
	status := r.StatusCode
	if status == 0 {
		status = 200
	}
	reason := r.Reason
	if reason == "" {
		reason = StatusText(status)
	}

	h := r.Header.Clone()
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	h.Set("Connection", "close")
	if r.SetCookie != "" {
		h.Set("Set-Cookie", r.SetCookie)
	}

	var buf bytes.Buffer
	buf.Grow(128 + len(r.Body))
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(status))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	buf.WriteString("\r\n")
	for _, f := range h.Fields() {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

var statusText = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	409: "Conflict",
	413: "Payload Too Large",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusText 는 상태 코드의 기본 reason phrase 를 반환합니다.
func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "Unknown"
}

// Reply 는 연결에 그대로 쓸 수 있는 응답입니다. *Response 와 RawReply 가 구현합니다.
type Reply interface {
	Bytes() []byte
}

// RawReply 는 이미 직렬화된 응답 바이트입니다. 프록시가 백엔드 응답을 그대로 전달할 때 씁니다.
type RawReply []byte

// Bytes 는 r 자신을 반환합니다.
func (r RawReply) Bytes() []byte { return r }

// ParseStatusCode 는 "HTTP/1.x <code> ..." 상태 라인에서 상태 코드를 읽습니다.
// 해석할 수 없으면 0 입니다.
func ParseStatusCode(wire []byte) int {
	line := wire
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := bytes.Fields(line)
	if len(fields) < 2 || !bytes.HasPrefix(fields[0], []byte("HTTP/")) {
		return 0
	}
	code, err := strconv.Atoi(string(fields[1]))
	if err != nil || code < 100 || code > 999 {
		return 0
	}
	return code
}

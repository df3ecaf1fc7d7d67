// Package hook 은 애플리케이션이 (method, path) 에 등록하는 handler capability 와
// 그 결과 타입을 정의합니다.
//
// handler 는 등록 시점에 두 가지 호출 형태 중 하나를 선언합니다.
//   - WithRequest: (요청 envelope, 응답 빌더) 를 받습니다. 상태 코드/헤더를 직접 설정할 수 있습니다.
//   - WithHeaders: (헤더 맵, 원본 본문) 만 받습니다.
//
// 어느 쪽이든 Result 를 반환하며, 디스패처가 이를 JSON 으로 직렬화합니다.
package hook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dalbodeule/weaprous-gate/internal/protocol"
)

// Kind 는 handler 가 선언한 호출 형태입니다.
type Kind int

const (
	KindRequest Kind = iota + 1 // (request, response)
	KindHeaders                 // (headers, body)
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindHeaders:
		return "headers"
	default:
		return "unknown"
	}
}

// RequestFunc 는 요청 envelope 과 응답 빌더를 받는 handler 입니다.
type RequestFunc func(req *protocol.Request, resp *protocol.Response) Result

// HeadersFunc 는 헤더 맵(소문자 키)과 원본 본문만 받는 handler 입니다.
type HeadersFunc func(headers map[string]string, body []byte) Result

// Handler 는 호출 형태를 태그로 가진 handler capability 입니다.
type Handler struct {
	kind        Kind
	withRequest RequestFunc
	withHeaders HeadersFunc
}

// WithRequest 는 (request, response) 형태의 Handler 를 만듭니다.
func WithRequest(fn RequestFunc) Handler {
	return Handler{kind: KindRequest, withRequest: fn}
}

// WithHeaders 는 (headers, body) 형태의 Handler 를 만듭니다.
func WithHeaders(fn HeadersFunc) Handler {
	return Handler{kind: KindHeaders, withHeaders: fn}
}

// Kind 는 선언된 호출 형태를 반환합니다.
func (h Handler) Kind() Kind { return h.kind }

// Call 은 선언된 형태에 맞춰 handler 를 호출합니다.
// handler 내부의 panic 은 Failure 결과로 바뀌며 호출자에게 전파되지 않습니다.
func (h Handler) Call(req *protocol.Request, resp *protocol.Response) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(fmt.Errorf("hook panic: %v", r))
		}
	}()

	switch h.kind {
	case KindRequest:
		if h.withRequest == nil {
			return Fail(ErrNilHandler)
		}
		return h.withRequest(req, resp)
	case KindHeaders:
		if h.withHeaders == nil {
			return Fail(ErrNilHandler)
		}
		return h.withHeaders(req.Header.Map(), req.Body)
	default:
		return Fail(ErrNilHandler)
	}
}

// ErrNilHandler 는 함수가 비어 있는 Handler 를 호출했음을 나타냅니다.
var ErrNilHandler = errors.New("hook: handler has no function")

// Result 는 hook 실행 결과입니다. 성공 payload 또는 에러 중 하나를 가집니다.
type Result struct {
	payload map[string]any
	err     error
}

// OK 는 성공 결과를 만듭니다. payload 는 JSON 으로 표현 가능한 단순 key/value 구조여야 합니다.
// (문자열, 숫자, bool, nil, 그리고 이들의 slice/map)
func OK(payload map[string]any) Result {
	return Result{payload: payload}
}

// Fail 은 실패 결과를 만듭니다. 디스패처는 500 과 에러 envelope 으로 응답합니다.
func Fail(err error) Result {
	if err == nil {
		err = errors.New("hook: unknown failure")
	}
	return Result{err: err}
}

// Failf 는 fmt.Errorf 로 만든 에러로 Fail 을 호출합니다.
func Failf(format string, args ...any) Result {
	return Fail(fmt.Errorf(format, args...))
}

// Err 는 실패 원인을 반환합니다. 성공이면 nil 입니다.
func (r Result) Err() error { return r.err }

// Payload 는 성공 payload 를 반환합니다.
func (r Result) Payload() map[string]any { return r.payload }

// MarshalPayload 는 성공 payload 를 JSON 으로 직렬화합니다.
// 타입이 있는 slice/map 과 큰 정수도 그대로 직렬화합니다. 채널, 함수처럼 JSON 으로
// 표현할 수 없는 값은 에러가 되고, 직렬화 결과는 structpb 로 key/value 구조인지 한 번 더 확인합니다.
func (r Result) MarshalPayload() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.payload == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(r.payload)
	if err != nil {
		return nil, fmt.Errorf("hook result is not a simple key/value structure: %w", err)
	}

	// json.Number 로 디코딩해 2^53 을 넘는 정수도 검사 과정에서 손상되지 않게 합니다.
	var normalized map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("hook result is not a simple key/value structure: %w", err)
	}
	if _, err := structpb.NewStruct(normalized); err != nil {
		return nil, fmt.Errorf("hook result is not a simple key/value structure: %w", err)
	}
	return data, nil
}

// ErrorEnvelope 는 실패를 {"status":"error","message":...} JSON 으로 만듭니다.
func ErrorEnvelope(err error) []byte {
	b, _ := json.Marshal(struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}{
		Status:  "error",
		Message: err.Error(),
	})
	return b
}

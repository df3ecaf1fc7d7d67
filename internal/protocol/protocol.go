package protocol

import "strings"

// Request 는 하나의 연결에서 읽어낸 HTTP 요청 envelope 입니다.
//
// Body 의 길이는 항상 Content-Length 헤더 값과 같습니다(헤더가 없으면 0).
// Raw 는 헤더 블록과 본문을 수신한 그대로 담고 있어 프록시가 변경 없이 전달할 수 있습니다.
type Request struct {
	Method  string
	Path    string // query 를 제외한 경로. 인증 게이트가 재작성할 수 있습니다.
	URL     string // 요청 라인의 request-target 원문
	Query   string
	Version string

	Header  Header
	Body    []byte
	Cookies map[string]string

	RemoteAddr string // 요청이 도착한 peer 주소 (host:port)
	Raw        []byte

	// Hook 은 (method, path) 에 매칭된 등록 hook 입니다. 없으면 nil 입니다.
	Hook HookBinding
}

// HookBinding 은 요청에 바인딩된 hook 의 등록 정보입니다.
type HookBinding interface {
	Pattern() string
	Methods() []string
}

// HookMatcher 는 (method, path) 에 매칭되는 hook 을 찾습니다. 매칭이 없으면 nil 을 반환합니다.
type HookMatcher interface {
	Match(method, path string) HookBinding
}

// Field 는 원래 대소문자를 유지한 헤더 이름과 값입니다.
type Field struct {
	Name  string
	Value string
}

// Header 는 대소문자를 구분하지 않는 헤더 맵입니다.
// 조회는 소문자 키로 하고, 직렬화 시에는 처음 설정된 순서와 원래 이름을 사용합니다.
// 같은 키를 다시 설정하면 마지막 값이 남습니다.
type Header struct {
	order  []string
	fields map[string]Field
}

// NewHeader 는 name/value 쌍으로 Header 를 만듭니다.
func NewHeader(kv ...string) Header {
	var h Header
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// Set 은 name 의 값을 value 로 설정합니다.
func (h *Header) Set(name, value string) {
	key := strings.ToLower(name)
	if h.fields == nil {
		h.fields = make(map[string]Field)
	}
	if f, ok := h.fields[key]; ok {
		h.fields[key] = Field{Name: f.Name, Value: value}
		return
	}
	h.order = append(h.order, key)
	h.fields[key] = Field{Name: name, Value: value}
}

// Get 은 name 의 값을 반환합니다. 없으면 빈 문자열입니다.
func (h Header) Get(name string) string {
	return h.fields[strings.ToLower(name)].Value
}

// Lookup 은 name 의 값과 존재 여부를 반환합니다.
func (h Header) Lookup(name string) (string, bool) {
	f, ok := h.fields[strings.ToLower(name)]
	return f.Value, ok
}

// Len 은 헤더 개수를 반환합니다.
func (h Header) Len() int { return len(h.order) }

// Fields 는 설정 순서대로 헤더 목록을 반환합니다.
func (h Header) Fields() []Field {
	out := make([]Field, 0, len(h.order))
	for _, k := range h.order {
		out = append(out, h.fields[k])
	}
	return out
}

// Map 은 소문자 키 기준의 단순 map 사본을 반환합니다. (headers, body) 형태 hook 에 전달됩니다.
func (h Header) Map() map[string]string {
	out := make(map[string]string, len(h.order))
	for k, f := range h.fields {
		out[k] = f.Value
	}
	return out
}

// Clone 은 독립적인 사본을 만듭니다.
func (h Header) Clone() Header {
	c := Header{
		order:  append([]string(nil), h.order...),
		fields: make(map[string]Field, len(h.fields)),
	}
	for k, f := range h.fields {
		c.fields[k] = f
	}
	return c
}

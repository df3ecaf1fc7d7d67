package hook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dalbodeule/weaprous-gate/internal/protocol"
)

var (
	// ErrSealed 는 서빙을 시작한 뒤 라우트를 등록하려고 했음을 나타냅니다.
	ErrSealed = errors.New("hook: table is sealed")

	// ErrDuplicateRoute 는 같은 (method, pattern) 이 이미 등록되어 있음을 나타냅니다.
	ErrDuplicateRoute = errors.New("hook: duplicate route")
)

// Route 는 (method 목록, path pattern) 에 바인딩된 handler 입니다.
type Route struct {
	pattern string
	methods []string
	handler Handler
}

func (r *Route) Pattern() string   { return r.pattern }
func (r *Route) Methods() []string { return append([]string(nil), r.methods...) }
func (r *Route) Handler() Handler  { return r.handler }

// Table 은 프로세스 시작 시 채워지고 이후에는 읽기 전용으로 쓰이는 hook 테이블입니다.
//
// pattern 은 정확히 일치하는 경로("/chat/join") 또는 "/*" 로 끝나는 prefix("/api/*") 입니다.
// 정확한 일치가 prefix 보다 우선하고, prefix 끼리는 가장 긴 것이 이깁니다.
// 따라서 하나의 요청은 최대 하나의 hook 에만 매칭됩니다.
type Table struct {
	exact    map[string]*Route // "METHOD path" -> route
	prefixes map[string][]prefixRoute
	sealed   bool
}

type prefixRoute struct {
	prefix string
	route  *Route
}

// NewTable 은 빈 Table 을 만듭니다.
func NewTable() *Table {
	return &Table{
		exact:    make(map[string]*Route),
		prefixes: make(map[string][]prefixRoute),
	}
}

// Handle 은 methods 각각에 대해 pattern 을 등록합니다.
func (t *Table) Handle(methods []string, pattern string, h Handler) error {
	if t.sealed {
		return ErrSealed
	}
	if pattern == "" || !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("hook: invalid pattern %q", pattern)
	}
	if len(methods) == 0 {
		methods = []string{"GET"}
	}

	norm := make([]string, 0, len(methods))
	for _, m := range methods {
		norm = append(norm, strings.ToUpper(strings.TrimSpace(m)))
	}
	route := &Route{pattern: pattern, methods: norm, handler: h}

	for _, m := range norm {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			for _, pr := range t.prefixes[m] {
				if pr.prefix == prefix {
					return fmt.Errorf("%w: %s %s", ErrDuplicateRoute, m, pattern)
				}
			}
			t.prefixes[m] = append(t.prefixes[m], prefixRoute{prefix: prefix, route: route})
			continue
		}
		key := m + " " + pattern
		if _, exists := t.exact[key]; exists {
			return fmt.Errorf("%w: %s %s", ErrDuplicateRoute, m, pattern)
		}
		t.exact[key] = route
	}
	return nil
}

// MustHandle 은 Handle 이 실패하면 panic 합니다. 시작 코드에서 사용합니다.
func (t *Table) MustHandle(methods []string, pattern string, h Handler) {
	if err := t.Handle(methods, pattern, h); err != nil {
		panic(err)
	}
}

// Seal 은 이후의 등록을 막습니다. 서버가 accept 루프를 시작하기 전에 호출합니다.
func (t *Table) Seal() { t.sealed = true }

// Len 은 등록된 (method, pattern) 조합 수를 반환합니다.
func (t *Table) Len() int {
	n := len(t.exact)
	for _, prs := range t.prefixes {
		n += len(prs)
	}
	return n
}

// Match 는 protocol.HookMatcher 를 구현합니다.
func (t *Table) Match(method, path string) protocol.HookBinding {
	if r := t.Lookup(method, path); r != nil {
		return r
	}
	return nil
}

// Lookup 은 (method, path) 에 매칭되는 Route 를 찾습니다.
func (t *Table) Lookup(method, path string) *Route {
	method = strings.ToUpper(method)
	if r, ok := t.exact[method+" "+path]; ok {
		return r
	}
	var best *prefixRoute
	for i := range t.prefixes[method] {
		pr := &t.prefixes[method][i]
		if strings.HasPrefix(path, pr.prefix) && (best == nil || len(pr.prefix) > len(best.prefix)) {
			best = pr
		}
	}
	if best == nil {
		return nil
	}
	return best.route
}

package proxy

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Policy 는 여러 백엔드 중 하나를 고르는 방식입니다.
type Policy string

const (
	// PolicyRoundRobin 은 hostname 별 커서를 돌려가며 백엔드를 고릅니다. (ko)
	// PolicyRoundRobin rotates through the pool using a per-hostname cursor. (en)
	PolicyRoundRobin Policy = "round-robin"

	// PolicyFirst 는 항상 목록의 첫 백엔드를 고릅니다. 알 수 없는 정책도 이렇게 동작합니다.
	PolicyFirst Policy = "first"
)

// DefaultBackend 는 라우팅 테이블에 기본 백엔드가 지정되지 않았을 때 사용합니다.
const DefaultBackend = "127.0.0.1:9000"

// fallbackPort 는 백엔드 포트를 해석할 수 없을 때 사용하는 포트입니다.
const fallbackPort = "9000"

// Route 는 하나의 hostname 에 대한 백엔드 풀과 정책입니다.
type Route struct {
	Backends []string
	Policy   Policy
}

// Table 은 시작 시점에 고정되는 hostname → Route 매핑입니다.
// 생성 후에는 읽기만 하므로 잠금 없이 여러 goroutine 에서 사용할 수 있습니다.
type Table struct {
	routes         map[string]Route
	defaultBackend string
}

// NewTable 은 routes 를 복사하여 Table 을 만듭니다. defaultBackend 가 비어 있으면 DefaultBackend 를 씁니다.
func NewTable(routes map[string]Route, defaultBackend string) *Table {
	cp := make(map[string]Route, len(routes))
	for host, r := range routes {
		cp[strings.ToLower(host)] = Route{
			Backends: append([]string(nil), r.Backends...),
			Policy:   r.Policy,
		}
	}
	if strings.TrimSpace(defaultBackend) == "" {
		defaultBackend = DefaultBackend
	}
	return &Table{routes: cp, defaultBackend: NormalizeBackend(defaultBackend)}
}

// Lookup 은 hostname 에 등록된 Route 를 찾습니다.
// "host:port" 로 먼저 찾고, 없으면 포트를 뗀 host 로 다시 찾습니다.
func (t *Table) Lookup(hostname string) (Route, bool) {
	_, r, ok := t.lookup(hostname)
	return r, ok
}

func (t *Table) lookup(hostname string) (string, Route, bool) {
	key := strings.ToLower(strings.TrimSpace(hostname))
	if r, ok := t.routes[key]; ok {
		return key, r, true
	}
	if h, _, err := net.SplitHostPort(key); err == nil {
		if r, ok := t.routes[h]; ok {
			return h, r, true
		}
	}
	return "", Route{}, false
}

// DefaultBackend 는 알 수 없는 hostname 에 사용할 백엔드입니다.
func (t *Table) DefaultBackend() string { return t.defaultBackend }

// Len 은 등록된 hostname 수입니다.
func (t *Table) Len() int { return len(t.routes) }

// Hosts 는 등록된 hostname 을 정렬해서 반환합니다.
func (t *Table) Hosts() []string {
	hosts := make([]string, 0, len(t.routes))
	for h := range t.routes {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Snapshot 은 관리 API 노출용으로 라우트 맵의 복사본을 반환합니다.
func (t *Table) Snapshot() map[string]Route {
	out := make(map[string]Route, len(t.routes))
	for h, r := range t.routes {
		out[h] = Route{Backends: append([]string(nil), r.Backends...), Policy: r.Policy}
	}
	return out
}

// NormalizeBackend 는 "host:port" 를 정규화합니다.
// 포트가 없거나 숫자가 아니면 같은 host 의 9000 번 포트로 바꿉니다.
func NormalizeBackend(addr string) string {
	addr = strings.TrimSpace(addr)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
		if i := strings.LastIndexByte(addr, ':'); i >= 0 && !strings.Contains(addr[:i], ":") {
			host, port = addr[:i], addr[i+1:]
		}
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		port = fallbackPort
	}
	return net.JoinHostPort(host, port)
}

// CursorTable 은 hostname 별 round-robin 커서입니다.
// 커서 생성과 전진은 하나의 임계 구역 안에서만 일어나며, 네트워크 I/O 중에는 잠금을 잡지 않습니다.
type CursorTable struct {
	mu      sync.Mutex
	cursors map[string]int
}

// NewCursorTable 은 빈 CursorTable 을 만듭니다.
func NewCursorTable() *CursorTable {
	return &CursorTable{cursors: make(map[string]int)}
}

// Next 는 host 의 현재 위치를 반환하고 커서를 한 칸 전진시킵니다. n 은 풀 크기입니다.
func (c *CursorTable) Next(host string, n int) int {
	if n <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.cursors[host] % n
	c.cursors[host] = (i + 1) % n
	return i
}

// Selection 은 한 요청에 대해 결정된 백엔드입니다.
type Selection struct {
	Host    string
	Backend string
	Policy  Policy
	Default bool // 기본 백엔드로 대체되었는지 여부
}

// Resolver 는 hostname 을 백엔드 하나로 결정합니다.
type Resolver struct {
	table   *Table
	cursors *CursorTable
}

// NewResolver 는 table 과 새 CursorTable 로 Resolver 를 만듭니다.
func NewResolver(table *Table) *Resolver {
	if table == nil {
		table = NewTable(nil, "")
	}
	return &Resolver{table: table, cursors: NewCursorTable()}
}

// Resolve 는 hostname 에 대한 백엔드를 고릅니다.
//
//   - 알 수 없는 hostname 이거나 백엔드 목록이 비어 있으면 기본 백엔드
//   - 백엔드가 하나면 그 백엔드
//   - 여럿이면 round-robin 은 커서 순서대로, 그 외 정책은 첫 번째 백엔드
func (r *Resolver) Resolve(hostname string) Selection {
	key, route, ok := r.table.lookup(hostname)
	if !ok || len(route.Backends) == 0 {
		return Selection{Host: hostname, Backend: r.table.DefaultBackend(), Policy: PolicyFirst, Default: true}
	}
	if len(route.Backends) == 1 {
		return Selection{Host: hostname, Backend: NormalizeBackend(route.Backends[0]), Policy: route.Policy}
	}

	switch route.Policy {
	case PolicyRoundRobin:
		i := r.cursors.Next(key, len(route.Backends))
		return Selection{Host: hostname, Backend: NormalizeBackend(route.Backends[i]), Policy: PolicyRoundRobin}
	default:
		return Selection{Host: hostname, Backend: NormalizeBackend(route.Backends[0]), Policy: route.Policy}
	}
}

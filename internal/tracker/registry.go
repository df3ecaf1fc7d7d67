package tracker

import (
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	// ErrChannelExists 는 같은 이름의 채널이 이미 있음을 나타냅니다.
	ErrChannelExists = errors.New("tracker: channel already exists")
	// ErrChannelNotFound 는 채널이 없음을 나타냅니다.
	ErrChannelNotFound = errors.New("tracker: channel not found")
)

// Peer 는 tracker 에 등록된 채팅 peer 입니다.
type Peer struct {
	Username      string
	IP            string
	Port          int
	LastHeartbeat time.Time
}

// PeerRegistry 는 username → Peer 매핑입니다. 모든 접근은 mu 로 보호됩니다.
type PeerRegistry struct {
	mu    sync.Mutex
	peers map[string]Peer
	now   func() time.Time
}

// NewPeerRegistry 는 빈 PeerRegistry 를 만듭니다. now 가 nil 이면 time.Now 입니다.
func NewPeerRegistry(now func() time.Time) *PeerRegistry {
	if now == nil {
		now = time.Now
	}
	return &PeerRegistry{peers: make(map[string]Peer), now: now}
}

// Register 는 peer 를 등록하거나 덮어쓰고, 등록 시각을 heartbeat 로 기록합니다.
// 이미 등록된 username 이었으면 true 를 반환합니다.
func (r *PeerRegistry) Register(username, ip string, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.peers[username]
	r.peers[username] = Peer{Username: username, IP: ip, Port: port, LastHeartbeat: r.now()}
	return existed
}

// Heartbeat 는 peer 의 마지막 heartbeat 시각을 갱신합니다. 등록되지 않은 peer 면 false 입니다.
func (r *PeerRegistry) Heartbeat(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[username]
	if !ok {
		return false
	}
	p.LastHeartbeat = r.now()
	r.peers[username] = p
	return true
}

// Lookup 은 usernames 중 현재 등록된 peer 만 순서대로 반환합니다.
func (r *PeerRegistry) Lookup(usernames []string) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(usernames))
	for _, u := range usernames {
		if p, ok := r.peers[u]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Len 은 등록된 peer 수입니다.
func (r *PeerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Reap 은 마지막 heartbeat 가 timeout 보다 오래된 peer 를 제거하고 그 username 을 반환합니다.
func (r *PeerRegistry) Reap(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var dead []string
	for u, p := range r.peers {
		if now.Sub(p.LastHeartbeat) > timeout {
			dead = append(dead, u)
		}
	}
	for _, u := range dead {
		delete(r.peers, u)
	}
	slices.Sort(dead)
	return dead
}

// Channel 은 채팅 채널입니다.
type Channel struct {
	Name    string
	Owner   string
	Members []string
}

// ChannelRegistry 는 채널 목록입니다. 생성 순서를 유지하며 모든 접근은 mu 로 보호됩니다.
type ChannelRegistry struct {
	mu       sync.Mutex
	order    []string
	channels map[string]*Channel
}

// NewChannelRegistry 는 빈 ChannelRegistry 를 만듭니다.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[string]*Channel)}
}

// Create 는 owner 를 첫 멤버로 하는 채널을 만듭니다. owner 가 비어 있으면 멤버 없이 만듭니다.
func (r *ChannelRegistry) Create(name, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[name]; ok {
		return ErrChannelExists
	}
	ch := &Channel{Name: name, Owner: owner}
	if owner != "" {
		ch.Members = []string{owner}
	}
	r.channels[name] = ch
	r.order = append(r.order, name)
	return nil
}

// Join 은 username 을 채널 멤버로 추가합니다. 이미 멤버면 아무것도 하지 않습니다.
// 새로 추가되었으면 true 입니다.
func (r *ChannelRegistry) Join(name, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		return false, ErrChannelNotFound
	}
	if slices.Contains(ch.Members, username) {
		return false, nil
	}
	ch.Members = append(ch.Members, username)
	return true, nil
}

// Members 는 채널 멤버 목록의 복사본을 반환합니다.
func (r *ChannelRegistry) Members(name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return slices.Clone(ch.Members), nil
}

// Names 는 채널 이름을 생성 순서대로 반환합니다.
func (r *ChannelRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Prune 은 모든 채널의 멤버 목록에서 usernames 를 제거합니다.
func (r *ChannelRegistry) Prune(usernames []string) {
	if len(usernames) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.channels {
		ch.Members = slices.DeleteFunc(ch.Members, func(m string) bool {
			return slices.Contains(usernames, m)
		})
	}
}

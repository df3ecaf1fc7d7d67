// Package tracker 는 P2P 채팅 클라이언트를 위한 presence tracker 를 hook 으로 제공합니다.
//
// peer 는 /register-peer 로 자신의 주소를 알리고 /heartbeat 로 살아 있음을 유지합니다.
// heartbeat 가 끊긴 peer 는 reaper 가 peer 목록과 모든 채널 멤버 목록에서 제거합니다.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dalbodeule/weaprous-gate/internal/hook"
	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/protocol"
)

const (
	// DefaultHeartbeatTimeout 이 지나도록 heartbeat 가 없으면 peer 를 제거합니다.
	DefaultHeartbeatTimeout = 60 * time.Second
	// DefaultReaperInterval 은 reaper 실행 주기입니다.
	DefaultReaperInterval = 30 * time.Second
	// DefaultChannel 은 시작 시 만들어지는 채널입니다.
	DefaultChannel = "#general"
)

// Tracker 는 peer/채널 레지스트리와 reaper 를 묶습니다.
type Tracker struct {
	Peers            *PeerRegistry
	Channels         *ChannelRegistry
	HeartbeatTimeout time.Duration
	ReaperInterval   time.Duration
	Logger           logging.Logger
}

// New 는 DefaultChannel 이 준비된 Tracker 를 생성합니다. 0 인 기간은 기본값을 씁니다.
func New(logger logging.Logger, heartbeatTimeout, reaperInterval time.Duration) *Tracker {
	if logger == nil {
		logger = logging.NewStdJSONLogger("tracker")
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	if reaperInterval <= 0 {
		reaperInterval = DefaultReaperInterval
	}
	t := &Tracker{
		Peers:            NewPeerRegistry(nil),
		Channels:         NewChannelRegistry(),
		HeartbeatTimeout: heartbeatTimeout,
		ReaperInterval:   reaperInterval,
		Logger:           logger.With(logging.Fields{"component": "tracker"}),
	}
	_ = t.Channels.Create(DefaultChannel, "")
	return t
}

// Register 는 tracker hook 들을 tbl 에 등록합니다.
func (t *Tracker) Register(tbl *hook.Table) error {
	routes := []struct {
		method  string
		pattern string
		handler hook.Handler
	}{
		{"POST", "/register-peer", hook.WithRequest(t.registerPeer)},
		{"POST", "/heartbeat", hook.WithHeaders(t.heartbeat)},
		{"GET", "/channels/list", hook.WithHeaders(t.listChannels)},
		{"POST", "/channels/create", hook.WithHeaders(t.createChannel)},
		{"POST", "/channels/join", hook.WithHeaders(t.joinChannel)},
		{"POST", "/channels/get-peers", hook.WithHeaders(t.channelPeers)},
	}
	for _, r := range routes {
		if err := tbl.Handle([]string{r.method}, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// RunReaper 는 ctx 가 끝날 때까지 ReaperInterval 마다 ReapOnce 를 실행합니다.
func (t *Tracker) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(t.ReaperInterval)
	defer ticker.Stop()
	t.Logger.Info("peer reaper started", logging.Fields{
		"timeout":  t.HeartbeatTimeout.String(),
		"interval": t.ReaperInterval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.ReapOnce()
		}
	}
}

// ReapOnce 는 만료된 peer 를 peer 목록과 채널 멤버 목록에서 제거하고 그 username 을 반환합니다.
// 두 레지스트리의 잠금은 동시에 잡지 않습니다.
func (t *Tracker) ReapOnce() []string {
	dead := t.Peers.Reap(t.HeartbeatTimeout)
	if len(dead) > 0 {
		t.Channels.Prune(dead)
		t.Logger.Info("reaped stale peers", logging.Fields{
			"peers":  dead,
			"online": t.Peers.Len(),
		})
	}
	return dead
}

func success(msg string) map[string]any {
	return map[string]any{"status": "success", "message": msg}
}

func failure(msg string) map[string]any {
	return map[string]any{"status": "error", "message": msg}
}

// invalidBody 는 본문을 해석할 수 없을 때의 응답입니다. 검증 실패와 같은 모양(200, status=error)입니다.
func invalidBody(err error) hook.Result {
	return hook.OK(failure(err.Error()))
}

func decodeBody(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

type registerRequest struct {
	Username string          `json:"username"`
	IP       string          `json:"ip"`
	Port     json.RawMessage `json:"port"`
}

// parsePort 는 숫자 또는 숫자 문자열 포트를 받습니다.
func parsePort(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return 0, false
	}
	return n, true
}

// registerPeer 는 ip 가 비어 있으면 요청을 보낸 연결의 주소를 사용합니다.
func (t *Tracker) registerPeer(req *protocol.Request, _ *protocol.Response) hook.Result {
	var in registerRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return invalidBody(err)
	}
	in.Username = strings.TrimSpace(in.Username)
	ip := strings.TrimSpace(in.IP)
	if ip == "" {
		if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
			ip = host
		}
	}
	port, ok := parsePort(in.Port)
	if in.Username == "" || ip == "" || !ok {
		return hook.OK(failure("username, ip and port are required"))
	}

	existed := t.Peers.Register(in.Username, ip, port)
	t.Logger.Info("peer registered", logging.Fields{
		"username":     in.Username,
		"ip":           ip,
		"port":         port,
		"reregistered": existed,
	})
	return hook.OK(success(fmt.Sprintf("peer %s registered", in.Username)))
}

type usernameRequest struct {
	Username string `json:"username"`
}

func (t *Tracker) heartbeat(_ map[string]string, body []byte) hook.Result {
	var in usernameRequest
	if err := decodeBody(body, &in); err != nil {
		return invalidBody(err)
	}
	if !t.Peers.Heartbeat(strings.TrimSpace(in.Username)) {
		return hook.OK(failure("peer not registered, call /register-peer first"))
	}
	return hook.OK(success("heartbeat recorded"))
}

func (t *Tracker) listChannels(_ map[string]string, _ []byte) hook.Result {
	return hook.OK(map[string]any{"status": "success", "channels": t.Channels.Names()})
}

type channelRequest struct {
	Username    string `json:"username"`
	ChannelName string `json:"channel_name"`
}

func (t *Tracker) createChannel(_ map[string]string, body []byte) hook.Result {
	var in channelRequest
	if err := decodeBody(body, &in); err != nil {
		return invalidBody(err)
	}
	if in.Username == "" || in.ChannelName == "" {
		return hook.OK(failure("username and channel_name are required"))
	}
	if err := t.Channels.Create(in.ChannelName, in.Username); err != nil {
		if errors.Is(err, ErrChannelExists) {
			return hook.OK(failure(fmt.Sprintf("channel '%s' already exists", in.ChannelName)))
		}
		return hook.Failf("create channel %q: %w", in.ChannelName, err)
	}
	t.Logger.Info("channel created", logging.Fields{
		"channel": in.ChannelName,
		"owner":   in.Username,
	})
	return hook.OK(success(fmt.Sprintf("channel '%s' created", in.ChannelName)))
}

func (t *Tracker) joinChannel(_ map[string]string, body []byte) hook.Result {
	var in channelRequest
	if err := decodeBody(body, &in); err != nil {
		return invalidBody(err)
	}
	if in.Username == "" || in.ChannelName == "" {
		return hook.OK(failure("username and channel_name are required"))
	}
	added, err := t.Channels.Join(in.ChannelName, in.Username)
	if err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			return hook.OK(failure(fmt.Sprintf("channel '%s' does not exist", in.ChannelName)))
		}
		return hook.Failf("join channel %q: %w", in.ChannelName, err)
	}
	if added {
		t.Logger.Info("channel joined", logging.Fields{
			"channel":  in.ChannelName,
			"username": in.Username,
		})
	}
	return hook.OK(success(fmt.Sprintf("joined channel '%s'", in.ChannelName)))
}

// channelPeers 는 채널 멤버 중 현재 온라인인 peer 의 주소만 반환합니다.
func (t *Tracker) channelPeers(_ map[string]string, body []byte) hook.Result {
	var in channelRequest
	if err := decodeBody(body, &in); err != nil {
		return invalidBody(err)
	}
	if in.ChannelName == "" {
		return hook.OK(failure("channel_name is required"))
	}
	members, err := t.Channels.Members(in.ChannelName)
	if err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			return hook.OK(failure(fmt.Sprintf("channel '%s' does not exist", in.ChannelName)))
		}
		return hook.Failf("list channel %q members: %w", in.ChannelName, err)
	}

	online := t.Peers.Lookup(members)
	peers := make([]map[string]any, 0, len(online))
	for _, p := range online {
		peers = append(peers, map[string]any{
			"username": p.Username,
			"ip":       p.IP,
			"port":     p.Port,
		})
	}
	return hook.OK(map[string]any{
		"status":  "success",
		"channel": in.ChannelName,
		"peers":   peers,
	})
}

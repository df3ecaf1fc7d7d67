package proxy

import (
	"bytes"
	"context"
	"net"
	"strings"

	"github.com/dalbodeule/weaprous-gate/internal/errorpages"
	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/observability"
	"github.com/dalbodeule/weaprous-gate/internal/protocol"
)

// Handler 는 클라이언트 요청 하나를 백엔드 하나로 전달하는 리버스 프록시입니다. (ko)
// Handler relays a single client request to exactly one resolved backend. (en)
type Handler struct {
	Resolver  *Resolver
	Forwarder *Forwarder
	// BindAddr 는 Host 헤더가 없을 때 hostname 으로 쓰는 프록시 자신의 "ip:port" 입니다.
	BindAddr string
	Logger   logging.Logger
}

// NewHandler 는 Handler 를 생성합니다. listenAddr 는 프록시가 바인딩한 주소입니다.
func NewHandler(logger logging.Logger, resolver *Resolver, forwarder *Forwarder, listenAddr string) *Handler {
	if logger == nil {
		logger = logging.NewStdJSONLogger("proxy")
	}
	if forwarder == nil {
		forwarder = NewForwarder(logger, DefaultBackendTimeout)
	}
	return &Handler{
		Resolver:  resolver,
		Forwarder: forwarder,
		BindAddr:  FallbackHost(listenAddr),
		Logger:    logger.With(logging.Fields{"component": "proxy"}),
	}
}

// Handle 은 req 의 hostname 으로 백엔드를 고르고 원문 그대로 전달합니다.
// 백엔드 응답은 수정 없이 반환하며, 전달에 실패하면 고정 404 를 반환합니다.
func (h *Handler) Handle(ctx context.Context, req *protocol.Request, log logging.Logger) protocol.Reply {
	if log == nil {
		log = h.Logger
	}

	host := HostFromRaw(req.Raw)
	if host == "" {
		host = h.BindAddr
	}
	sel := h.Resolver.Resolve(host)
	observability.BackendSelectionsTotal.WithLabelValues(sel.Backend, string(sel.Policy)).Inc()

	log = log.With(logging.Fields{
		"host":    host,
		"backend": sel.Backend,
		"policy":  string(sel.Policy),
	})
	if sel.Default {
		log.Debug("no route for host, using default backend", nil)
	}

	wire, err := h.Forwarder.Forward(ctx, sel.Backend, req.Raw)
	if err != nil {
		log.Error("forward to backend failed", logging.Fields{
			"error": err.Error(),
		})
		return errorpages.ProxyNotFound()
	}
	return protocol.RawReply(wire)
}

// HostFromRaw 는 요청 원문의 헤더 라인에서 첫 "Host:" 값을 찾습니다. 대소문자를 구분하지 않습니다.
func HostFromRaw(raw []byte) string {
	head := raw
	if i := bytes.Index(head, []byte("\r\n\r\n")); i >= 0 {
		head = head[:i]
	}
	lines := bytes.Split(head, []byte("\n"))
	if len(lines) < 2 {
		return ""
	}
	for _, line := range lines[1:] {
		name, value, ok := bytes.Cut(bytes.TrimRight(line, "\r"), []byte(":"))
		if !ok {
			continue
		}
		if strings.EqualFold(string(bytes.TrimSpace(name)), "host") {
			return string(bytes.TrimSpace(value))
		}
	}
	return ""
}

// FallbackHost 는 listen 주소를 "ip:port" hostname 으로 바꿉니다. ip 가 비어 있으면 0.0.0.0 입니다.
func FallbackHost(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, port)
}

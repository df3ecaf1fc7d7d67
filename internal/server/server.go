package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/net/netutil"

	"github.com/dalbodeule/weaprous-gate/internal/errorpages"
	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/observability"
	"github.com/dalbodeule/weaprous-gate/internal/protocol"
)

// ErrServerClosed 는 Shutdown 이후 Serve 가 반환하는 에러입니다.
var ErrServerClosed = errors.New("server: closed")

// DefaultWriteTimeout 은 응답 쓰기에 거는 기본 데드라인입니다.
const DefaultWriteTimeout = 30 * time.Second

// Handler 는 framing 이 끝난 요청 하나에 대한 응답을 만듭니다.
// 애플리케이션 서버(gate)와 리버스 프록시가 각각 구현합니다.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request, log logging.Logger) protocol.Reply
}

// HandlerFunc 는 함수를 Handler 로 씁니다.
type HandlerFunc func(ctx context.Context, req *protocol.Request, log logging.Logger) protocol.Reply

// Handle 은 f(ctx, req, log) 를 호출합니다.
func (f HandlerFunc) Handle(ctx context.Context, req *protocol.Request, log logging.Logger) protocol.Reply {
	return f(ctx, req, log)
}

// Server 는 연결마다 goroutine 하나를 띄워 요청/응답 한 번을 처리하는 TCP 서버입니다. (ko)
// Server runs one goroutine per accepted connection, handling exactly one request. (en)
//
// 연결은 응답을 쓴 뒤, 또는 요청을 완성하지 못하고 버려진 뒤 항상 닫힙니다.
// 한 연결의 실패나 panic 은 다른 연결이나 accept 루프에 영향을 주지 않습니다.
type Server struct {
	Mode           string // 메트릭/로그 라벨: "server" 또는 "proxy"
	Framer         *protocol.Framer
	Handler        Handler
	ReadTimeout    time.Duration // read 한 번의 데드라인. 0 이면 없음
	RequestTimeout time.Duration // 요청 전체(헤더+본문)를 읽는 상한. 0 이면 없음
	WriteTimeout   time.Duration // 0 이면 DefaultWriteTimeout
	MaxConns       int           // 0 이면 무제한
	Logger         logging.Logger

	mu       sync.Mutex
	listener net.Listener
	loopDone chan struct{}
	closed   atomic.Bool
	sessions *xsync.MapOf[string, *Session]
	wg       sync.WaitGroup
}

// New 는 Server 를 생성합니다.
func New(logger logging.Logger, mode string, framer *protocol.Framer, handler Handler) *Server {
	if logger == nil {
		logger = logging.NewStdJSONLogger(mode)
	}
	if framer == nil {
		framer = &protocol.Framer{}
	}
	return &Server{
		Mode:     mode,
		Framer:   framer,
		Handler:  handler,
		Logger:   logger.With(logging.Fields{"component": "listener", "mode": mode}),
		sessions: xsync.NewMapOf[string, *Session](),
	}
}

// ListenAndServe 는 addr 에 바인딩한 뒤 Serve 를 실행합니다.
// 바인딩 실패는 복구할 수 없는 에러로 그대로 반환합니다.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve 는 ln 에서 연결을 받아 처리합니다. ctx 가 끝나면 Shutdown 을 수행합니다.
// 일시적인 accept 에러는 backoff 후 재시도하며, Shutdown 이후에는 ErrServerClosed 를 반환합니다.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.MaxConns)
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.loopDone = make(chan struct{})
	done := s.loopDone
	s.mu.Unlock()
	defer close(done)

	stop := context.AfterFunc(ctx, func() {
		_ = s.Shutdown(context.Background())
	})
	defer stop()

	s.Logger.Info("listening", logging.Fields{
		"addr":      ln.Addr().String(),
		"max_conns": s.MaxConns,
	})

	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay = min(2*tempDelay, time.Second)
			}
			s.Logger.Warn("accept failed, retrying", logging.Fields{
				"error":   err.Error(),
				"backoff": tempDelay.String(),
			})
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		sess := newSession(c, s.ReadTimeout, s.RequestTimeout)
		s.sessions.Store(sess.ID(), sess)
		s.wg.Add(1)
		go s.serveSession(ctx, sess)
	}
}

// Addr 는 현재 listener 주소입니다. Serve 전이면 nil 입니다.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveSessions 는 처리 중인 연결 수입니다.
func (s *Server) ActiveSessions() int {
	return s.sessions.Size()
}

// Shutdown 은 listener 와 살아 있는 모든 연결을 닫고, 연결 goroutine 이 끝나길 기다립니다.
// ctx 가 먼저 끝나면 ctx.Err() 를 반환합니다. 여러 번 호출해도 안전합니다.
func (s *Server) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.closed.Store(true)
	ln, done := s.listener, s.loopDone
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	closedConns := 0
	s.sessions.Range(func(id string, sess *Session) bool {
		_ = sess.Close()
		closedConns++
		return true
	})

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		s.Logger.Info("shutdown complete", logging.Fields{"closed_conns": closedConns})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) serveSession(ctx context.Context, sess *Session) {
	defer s.wg.Done()
	defer s.sessions.Delete(sess.ID())
	defer sess.Close()

	mode := s.Mode
	observability.ConnectionsTotal.WithLabelValues(mode).Inc()
	observability.ActiveConnections.WithLabelValues(mode).Inc()
	defer observability.ActiveConnections.WithLabelValues(mode).Dec()

	remote := sess.RemoteAddr().String()
	log := s.Logger.With(logging.Fields{
		"conn_id":     sess.ID(),
		"remote_addr": remote,
	})

	defer func() {
		if r := recover(); r != nil {
			observability.AbandonedTotal.WithLabelValues(mode, "panic").Inc()
			log.Error("panic while handling connection", logging.Fields{
				"panic": fmt.Sprint(r),
			})
			s.write(sess, errorpages.Render(500).Bytes())
		}
	}()

	if s.closed.Load() {
		return
	}

	start := time.Now()
	req, err := s.Framer.ReadRequest(sess, remote)
	if err != nil {
		reason := abandonReason(err)
		observability.AbandonedTotal.WithLabelValues(mode, reason).Inc()
		log.Debug("connection abandoned", logging.Fields{
			"reason": reason,
			"error":  err.Error(),
		})
		return
	}

	wire := s.Handler.Handle(ctx, req, log).Bytes()
	if err := s.write(sess, wire); err != nil {
		observability.AbandonedTotal.WithLabelValues(mode, "write_failed").Inc()
		log.Warn("failed to write response", logging.Fields{
			"error": err.Error(),
		})
		return
	}

	status := protocol.ParseStatusCode(wire)
	elapsed := time.Since(start)
	observability.RequestsTotal.WithLabelValues(mode, req.Method, strconv.Itoa(status)).Inc()
	observability.RequestDurationSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
	log.Info("request handled", logging.Fields{
		"method":     req.Method,
		"path":       req.Path,
		"status":     status,
		"bytes":      len(wire),
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

func (s *Server) write(sess *Session, wire []byte) error {
	timeout := s.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if err := sess.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := sess.Write(wire)
	return err
}

// abandonReason 은 framing 실패를 메트릭 라벨로 분류합니다.
func abandonReason(err error) string {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, protocol.ErrHeaderTooLarge):
		return "header_too_large"
	case errors.Is(err, protocol.ErrIncompleteBody):
		return "incomplete_body"
	case errors.Is(err, protocol.ErrMalformedRequest):
		return "malformed"
	case errors.Is(err, protocol.ErrNoRequest):
		return "no_request"
	default:
		return "read_failed"
	}
}

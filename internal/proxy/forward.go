package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/observability"
)

// DefaultBackendTimeout 은 백엔드 dial/쓰기/각 읽기에 거는 기본 데드라인입니다.
const DefaultBackendTimeout = 10 * time.Second

// DefaultMaxResponseBytes 는 백엔드 응답을 메모리에 모을 수 있는 상한입니다.
const DefaultMaxResponseBytes = 64 * 1024 * 1024

var (
	// ErrBackendUnavailable 은 백엔드 연결/쓰기/읽기 실패를 나타냅니다.
	// 클라이언트에게는 고정 404 로만 보입니다.
	ErrBackendUnavailable = errors.New("proxy: backend unavailable")

	// ErrResponseTooLarge 는 백엔드 응답이 MaxResponseBytes 를 넘었음을 나타냅니다.
	ErrResponseTooLarge = errors.New("proxy: backend response too large")
)

// Forwarder 는 요청 원문을 백엔드로 보내고 응답을 스트림 끝까지 읽습니다. (ko)
// Forwarder writes the raw request to a backend and reads the reply until EOF. (en)
type Forwarder struct {
	Timeout          time.Duration // 0 이면 DefaultBackendTimeout
	MaxResponseBytes int           // 0 이면 DefaultMaxResponseBytes
	Dialer           *net.Dialer
	Logger           logging.Logger
}

// NewForwarder 는 timeout 을 쓰는 Forwarder 를 생성합니다.
func NewForwarder(logger logging.Logger, timeout time.Duration) *Forwarder {
	if logger == nil {
		logger = logging.NewStdJSONLogger("proxy_forwarder")
	}
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	return &Forwarder{
		Timeout: timeout,
		Dialer:  &net.Dialer{Timeout: timeout},
		Logger:  logger.With(logging.Fields{"component": "proxy_forwarder"}),
	}
}

func (f *Forwarder) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return DefaultBackendTimeout
}

// Forward 는 backend 에 새 연결을 열어 raw 를 그대로 쓰고, 응답 바이트를 반환합니다.
//
// 읽기 데드라인이 지났을 때 이미 받은 바이트가 있으면 응답이 끝난 것으로 보고 그 바이트를
// 반환합니다. 받은 바이트가 없거나 다른 이유로 실패하면 ErrBackendUnavailable 을 감싼 에러입니다.
func (f *Forwarder) Forward(ctx context.Context, backend string, raw []byte) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := f.timeout()

	dialer := f.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: timeout}
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, err := dialer.DialContext(dialCtx, "tcp", backend)
	cancel()
	if err != nil {
		observability.ProxyErrorsTotal.WithLabelValues("dial_failed").Inc()
		return nil, fmt.Errorf("%w: dial %s: %w", ErrBackendUnavailable, backend, err)
	}
	defer conn.Close()

	// ctx 가 취소되면 진행 중인 I/O 를 깨웁니다.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: set write deadline: %w", ErrBackendUnavailable, err)
	}
	if _, err := conn.Write(raw); err != nil {
		observability.ProxyErrorsTotal.WithLabelValues("write_failed").Inc()
		return nil, fmt.Errorf("%w: write %s: %w", ErrBackendUnavailable, backend, err)
	}

	return f.readAll(conn, backend)
}

func (f *Forwarder) readAll(conn net.Conn, backend string) ([]byte, error) {
	limit := f.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	timeout := f.timeout()

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("%w: set read deadline: %w", ErrBackendUnavailable, err)
		}
		n, err := conn.Read(chunk)
		buf.Write(chunk[:n])
		if buf.Len() > limit {
			observability.ProxyErrorsTotal.WithLabelValues("response_too_large").Inc()
			return nil, fmt.Errorf("%w: %s sent more than %d bytes", ErrResponseTooLarge, backend, limit)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if buf.Len() > 0 {
				f.Logger.Warn("backend read deadline reached, relaying partial response", logging.Fields{
					"backend": backend,
					"bytes":   buf.Len(),
				})
				return buf.Bytes(), nil
			}
			observability.ProxyErrorsTotal.WithLabelValues("backend_timeout").Inc()
			return nil, fmt.Errorf("%w: %s sent nothing within %s: %w", ErrBackendUnavailable, backend, timeout, err)
		}
		observability.ProxyErrorsTotal.WithLabelValues("read_failed").Inc()
		return nil, fmt.Errorf("%w: read %s: %w", ErrBackendUnavailable, backend, err)
	}
}

package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/proxy"
)

var (
	// ErrRouteNotFound 는 조회한 hostname 이 라우팅 테이블에 없음을 나타냅니다.
	ErrRouteNotFound = errors.New("route not found")
	// ErrInvalidRoute 는 hostname 이나 백엔드 목록이 비어 있음을 나타냅니다.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrReadOnly 는 영속 저장소 없이 라우트를 변경하려 했음을 나타냅니다.
	ErrReadOnly = errors.New("route store not configured")
)

// RouteService 는 프록시 라우팅 테이블 조회와 영속 저장소 갱신을 담당하는 인터페이스입니다.
type RouteService interface {
	// ListRoutes 는 현재 적재된 라우트 전체와 기본 백엔드를 반환합니다.
	ListRoutes(ctx context.Context) (routes map[string]proxy.Route, defaultBackend string, err error)

	// GetRoute 는 hostname 의 라우트를 반환합니다. 없으면 ErrRouteNotFound 입니다.
	GetRoute(ctx context.Context, hostname string) (proxy.Route, error)

	// SaveRoute 는 라우트를 저장소에 기록합니다. 적재된 테이블은 재시작 후에 바뀝니다.
	SaveRoute(ctx context.Context, hostname string, r proxy.Route) error
}

// RouteWriter 는 라우트를 영속화하는 저장소입니다. *store.RouteStore 가 구현합니다.
type RouteWriter interface {
	UpsertRoute(ctx context.Context, hostname string, r proxy.Route) error
}

// RouteServiceImpl 는 메모리의 proxy.Table 과 선택적인 RouteWriter 로 RouteService 를 구현합니다.
type RouteServiceImpl struct {
	logger logging.Logger
	table  *proxy.Table
	writer RouteWriter
}

// NewRouteService 는 기본 RouteService 구현체를 생성합니다. writer 는 nil 일 수 있습니다.
func NewRouteService(logger logging.Logger, table *proxy.Table, writer RouteWriter) RouteService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RouteServiceImpl{
		logger: logger.With(logging.Fields{"component": "route_service"}),
		table:  table,
		writer: writer,
	}
}

func (s *RouteServiceImpl) ListRoutes(ctx context.Context) (map[string]proxy.Route, string, error) {
	return s.table.Snapshot(), s.table.DefaultBackend(), nil
}

func (s *RouteServiceImpl) GetRoute(ctx context.Context, hostname string) (proxy.Route, error) {
	h := normalizeHostname(hostname)
	if h == "" {
		return proxy.Route{}, ErrInvalidRoute
	}
	r, ok := s.table.Lookup(h)
	if !ok {
		return proxy.Route{}, ErrRouteNotFound
	}
	return r, nil
}

func (s *RouteServiceImpl) SaveRoute(ctx context.Context, hostname string, r proxy.Route) error {
	h := normalizeHostname(hostname)
	if h == "" || len(r.Backends) == 0 {
		return ErrInvalidRoute
	}
	if s.writer == nil {
		return ErrReadOnly
	}
	if ctx == nil {
		ctx = context.Background()
	}

	backends := make([]string, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b = strings.TrimSpace(b); b != "" {
			backends = append(backends, proxy.NormalizeBackend(b))
		}
	}
	if len(backends) == 0 {
		return ErrInvalidRoute
	}

	if err := s.writer.UpsertRoute(ctx, h, proxy.Route{Backends: backends, Policy: r.Policy}); err != nil {
		s.logger.Error("failed to save route", logging.Fields{
			"hostname": h,
			"error":    err.Error(),
		})
		return fmt.Errorf("save route: %w", err)
	}
	s.logger.Info("route saved, effective after restart", logging.Fields{
		"hostname": h,
		"backends": backends,
		"policy":   string(r.Policy),
	})
	return nil
}

// normalizeHostname 은 hostname 을 소문자로 바꾸고 공백과 끝의 점을 제거합니다.
func normalizeHostname(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimSuffix(h, ".")
}

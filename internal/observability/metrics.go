package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 전역 레지스트리에 등록할 메트릭들을 정의합니다.
// 메트릭 이름에는 weaprous_ 접두어를 붙이고, mode 라벨로 server/proxy 를 구분합니다.

var (
	// 수락한 연결 수 (mode 라벨 포함).
	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaprous_connections_total",
			Help: "Total number of accepted client connections, labeled by mode.",
		},
		[]string{"mode"}, // server, proxy
	)

	// 현재 처리 중인 연결 수.
	ActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weaprous_active_connections",
			Help: "Number of client connections currently being handled, labeled by mode.",
		},
		[]string{"mode"},
	)

	// 응답까지 완료된 요청 수 (mode/메서드/상태 코드 라벨 포함).
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaprous_requests_total",
			Help: "Total number of requests answered, labeled by mode, method and status code.",
		},
		[]string{"mode", "method", "status"},
	)

	// 요청 처리 시간 분포.
	RequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weaprous_request_duration_seconds",
			Help:    "Histogram of request latencies in seconds, labeled by mode.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// 응답 없이 버려진 연결 수 (사유 라벨 포함).
	AbandonedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaprous_abandoned_connections_total",
			Help: "Total number of connections closed without a response, labeled by reason.",
		},
		[]string{"mode", "reason"}, // no_request, incomplete_body, timeout, header_too_large, malformed, panic
	)

	// 프록시가 선택한 백엔드 횟수.
	BackendSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaprous_proxy_backend_selections_total",
			Help: "Total number of backend selections by the reverse proxy, labeled by backend and policy.",
		},
		[]string{"backend", "policy"},
	)

	// 프록시 에러 카운터 (에러 유형 라벨 포함).
	ProxyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaprous_proxy_errors_total",
			Help: "Total number of proxy-related errors, labeled by error type.",
		},
		[]string{"type"}, // dial_failed, write_failed, read_failed, backend_timeout
	)

	// hook 실행 결과 카운터.
	HookInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaprous_hook_invocations_total",
			Help: "Total number of hook invocations, labeled by route and result.",
		},
		[]string{"route", "result"}, // ok, error
	)
)

// MustRegister 는 위에서 정의한 메트릭들을 전역 Prometheus 레지스트리에 등록합니다.
// 프로세스 시작 시 한 번만 호출해야 합니다.
func MustRegister() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveConnections,
		RequestsTotal,
		RequestDurationSeconds,
		AbandonedTotal,
		BackendSelectionsTotal,
		ProxyErrorsTotal,
		HookInvocationsTotal,
	)
}

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dalbodeule/weaprous-gate/internal/admin"
	"github.com/dalbodeule/weaprous-gate/internal/config"
	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/observability"
	"github.com/dalbodeule/weaprous-gate/internal/protocol"
	"github.com/dalbodeule/weaprous-gate/internal/proxy"
	"github.com/dalbodeule/weaprous-gate/internal/server"
	"github.com/dalbodeule/weaprous-gate/internal/store"
)

func main() {
	bootLogger := logging.NewStdJSONLogger("proxy")

	// 1. 프록시 설정 로드 (.env + 환경변수)
	cfg, err := config.LoadProxyConfigFromEnv()
	if err != nil {
		bootLogger.Error("failed to load proxy config from env", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	// CLI 인자 정의 (env 보다 우선 적용됨)
	listenFlag := flag.String("listen", "", "listen address (ip:port or port), e.g. :8080")
	routesFlag := flag.String("routes", "", "YAML routing table file")
	defaultBackendFlag := flag.String("default-backend", "", "backend for unknown hosts (host:port)")
	flag.Parse()

	cfg.Listen = config.FirstNonEmpty(*listenFlag, cfg.Listen)
	cfg.RoutesFile = config.FirstNonEmpty(*routesFlag, cfg.RoutesFile)

	logger := logging.NewJSONLogger(os.Stdout, "proxy", logging.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 라우팅 테이블 구성: 파일 → PostgreSQL 순서로 덮어씁니다.
	routes := make(map[string]proxy.Route)
	fileDefault := ""
	if cfg.RoutesFile != "" {
		fileRoutes, def, err := config.LoadRoutesFile(cfg.RoutesFile)
		if err != nil {
			logger.Error("failed to load routes file", logging.Fields{
				"path":  cfg.RoutesFile,
				"error": err.Error(),
			})
			os.Exit(1)
		}
		for h, r := range fileRoutes {
			routes[h] = r
		}
		fileDefault = def
	}

	var (
		routeStore  *store.RouteStore
		routeWriter admin.RouteWriter
	)
	// fatal 은 열린 route store 를 닫은 뒤 종료합니다. os.Exit 는 defer 를 실행하지 않습니다.
	fatal := func(msg string, err error) {
		logger.Error(msg, logging.Fields{
			"error": err.Error(),
		})
		if routeStore != nil {
			_ = routeStore.Close()
		}
		os.Exit(1)
	}

	if cfg.DBDSN != "" {
		rs, err := store.OpenPostgresFromEnv(ctx, logger)
		if err != nil {
			fatal("failed to open route store", err)
		}
		routeStore, routeWriter = rs, rs

		dbRoutes, err := rs.LoadRoutes(ctx)
		if err != nil {
			fatal("failed to load routes from postgres", err)
		}
		for h, r := range dbRoutes {
			routes[h] = r
		}
	}

	defaultBackend := config.FirstNonEmpty(*defaultBackendFlag, fileDefault, cfg.DefaultBackend)
	table := proxy.NewTable(routes, defaultBackend)

	logger.Info("weaprous proxy starting", logging.Fields{
		"listen":          cfg.Listen,
		"routes":          table.Len(),
		"hosts":           table.Hosts(),
		"default_backend": table.DefaultBackend(),
		"read_timeout":    cfg.ReadTimeout.String(),
		"request_timeout": cfg.RequestTimeout.String(),
		"backend_timeout": cfg.BackendTimeout.String(),
		"max_conns":       cfg.MaxConns,
		"admin_listen":    cfg.Admin.Listen,
	})

	// 3. Prometheus 메트릭 등록
	observability.MustRegister()

	// 4. 관리 plane (/metrics, /healthz, /api/v1/admin/routes)
	if cfg.Admin.Listen != "" {
		svc := admin.NewRouteService(logger, table, routeWriter)
		go func() {
			if err := admin.ListenAndServe(ctx, cfg.Admin.Listen, admin.NewHandler(logger, cfg.Admin.APIKey, svc)); err != nil {
				logger.Error("admin plane stopped", logging.Fields{
					"error": err.Error(),
				})
			}
		}()
	}

	// 5. Resolver + Forwarder 로 연결마다 요청 하나를 백엔드 하나로 전달
	handler := proxy.NewHandler(logger, proxy.NewResolver(table), proxy.NewForwarder(logger, cfg.BackendTimeout), cfg.Listen)
	srv := server.New(logger, "proxy", &protocol.Framer{}, handler)
	srv.ReadTimeout = cfg.ReadTimeout
	srv.RequestTimeout = cfg.RequestTimeout
	srv.MaxConns = cfg.MaxConns

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil && !errors.Is(err, server.ErrServerClosed) {
		fatal("proxy stopped", err)
	}
	if routeStore != nil {
		_ = routeStore.Close()
	}
	logger.Info("weaprous proxy stopped", nil)
}

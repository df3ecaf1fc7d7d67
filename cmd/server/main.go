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
	"github.com/dalbodeule/weaprous-gate/internal/content"
	"github.com/dalbodeule/weaprous-gate/internal/gate"
	"github.com/dalbodeule/weaprous-gate/internal/hook"
	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/observability"
	"github.com/dalbodeule/weaprous-gate/internal/protocol"
	"github.com/dalbodeule/weaprous-gate/internal/server"
	"github.com/dalbodeule/weaprous-gate/internal/tracker"
)

func main() {
	bootLogger := logging.NewStdJSONLogger("server")

	// 1. 서버 설정 로드 (.env + 환경변수)
	cfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		bootLogger.Error("failed to load server config from env", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	// CLI 인자 정의 (env 보다 우선 적용됨)
	listenFlag := flag.String("listen", "", "listen address (ip:port or port), e.g. :8080")
	wwwFlag := flag.String("www-dir", "", "root directory for text/html pages")
	staticFlag := flag.String("static-dir", "", "root directory for static assets")
	appsFlag := flag.String("apps-dir", "", "root directory for other application/* content")
	flag.Parse()

	cfg.Listen = config.FirstNonEmpty(*listenFlag, cfg.Listen)
	cfg.WWWDir = config.FirstNonEmpty(*wwwFlag, cfg.WWWDir)
	cfg.StaticDir = config.FirstNonEmpty(*staticFlag, cfg.StaticDir)
	cfg.AppsDir = config.FirstNonEmpty(*appsFlag, cfg.AppsDir)

	logger := logging.NewJSONLogger(os.Stdout, "server", logging.ParseLevel(cfg.Logging.Level))
	logger.Info("weaprous server starting", logging.Fields{
		"listen":          cfg.Listen,
		"www_dir":         cfg.WWWDir,
		"static_dir":      cfg.StaticDir,
		"apps_dir":        cfg.AppsDir,
		"auth_enabled":    cfg.AuthEnabled,
		"read_timeout":    cfg.ReadTimeout.String(),
		"request_timeout": cfg.RequestTimeout.String(),
		"max_conns":       cfg.MaxConns,
		"admin_listen":    cfg.Admin.Listen,
	})

	// 2. Prometheus 메트릭 등록
	observability.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. hook 테이블 구성 (tracker) 후 봉인
	hooks := hook.NewTable()
	trk := tracker.New(logger, cfg.HeartbeatTimeout, cfg.ReaperInterval)
	if err := trk.Register(hooks); err != nil {
		logger.Error("failed to register tracker hooks", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	hooks.Seal()
	go trk.RunReaper(ctx)

	// 4. Router / Auth Gate + Response Builder
	builder := content.NewBuilder(logger, content.Roots{
		Pages:  cfg.WWWDir,
		Static: cfg.StaticDir,
		Apps:   cfg.AppsDir,
	})
	var auth *gate.AuthConfig
	if cfg.AuthEnabled {
		auth = gate.DefaultAuthConfig(cfg.LoginUser, cfg.LoginPass)
	} else {
		logger.Warn("login gate disabled; every request falls through to hooks and static content", nil)
	}
	dispatcher := gate.New(logger, auth, builder)

	// 5. 관리 plane (/metrics, /healthz)
	if cfg.Admin.Listen != "" {
		go func() {
			if err := admin.ListenAndServe(ctx, cfg.Admin.Listen, admin.NewHandler(logger, cfg.Admin.APIKey, nil)); err != nil {
				logger.Error("admin plane stopped", logging.Fields{
					"error": err.Error(),
				})
			}
		}()
	}

	// 6. 연결마다 goroutine 하나로 요청 처리
	srv := server.New(logger, "server", &protocol.Framer{Hooks: hooks}, dispatcher)
	srv.ReadTimeout = cfg.ReadTimeout
	srv.RequestTimeout = cfg.RequestTimeout
	srv.MaxConns = cfg.MaxConns

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil && !errors.Is(err, server.ErrServerClosed) {
		logger.Error("server stopped", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	logger.Info("weaprous server stopped", nil)
}

package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dalbodeule/weaprous-gate/internal/logging"
)

// NewMux 는 h 의 라우트를 등록한 ServeMux 를 만듭니다.
func NewMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

// Serve 는 ln 에서 관리 plane 을 실행하고, ctx 가 끝나면 graceful shutdown 합니다.
func Serve(ctx context.Context, ln net.Listener, h *Handler) error {
	srv := &http.Server{
		Handler:           NewMux(h),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	h.Logger.Info("admin plane listening", logging.Fields{
		"addr": ln.Addr().String(),
	})
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin serve: %w", err)
	}
	return nil
}

// ListenAndServe 는 addr 에 바인딩한 뒤 Serve 를 실행합니다.
func ListenAndServe(ctx context.Context, addr string, h *Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", addr, err)
	}
	return Serve(ctx, ln, h)
}

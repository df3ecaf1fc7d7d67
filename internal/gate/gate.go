package gate

import (
	"context"
	"time"

	"github.com/dalbodeule/weaprous-gate/internal/content"
	"github.com/dalbodeule/weaprous-gate/internal/errorpages"
	"github.com/dalbodeule/weaprous-gate/internal/hook"
	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/observability"
	"github.com/dalbodeule/weaprous-gate/internal/protocol"
)

// AuthConfig 는 로그인/쿠키 규칙 설정입니다.
type AuthConfig struct {
	LoginPath   string // POST 로그인 경로 (기본 "/login")
	PublicPage  string // 쿠키 없이 제공하는 로그인 페이지 (기본 "/login.html")
	LandingPage string // 로그인 성공 시 제공하는 보호 페이지 (기본 "/index.html")
	CookieName  string // 기본 "auth"
	CookieValue string // 기본 "true"
	Username    string
	Password    string
}

// DefaultAuthConfig 는 기본 경로/쿠키 값과 주어진 계정으로 AuthConfig 를 만듭니다.
func DefaultAuthConfig(username, password string) *AuthConfig {
	return &AuthConfig{
		LoginPath:   "/login",
		PublicPage:  "/login.html",
		LandingPage: "/index.html",
		CookieName:  "auth",
		CookieValue: "true",
		Username:    username,
		Password:    password,
	}
}

// SetCookie 는 로그인 성공 시 내려줄 Set-Cookie 값입니다. (예: "auth=true; Path=/")
func (a *AuthConfig) SetCookie() string {
	return a.CookieName + "=" + a.CookieValue + "; Path=/"
}

// Gate 는 요청 envelope 을 받아 응답을 만드는 디스패처입니다.
//
// 규칙은 고정된 우선순위로 시도하며, 처음으로 응답을 만든 규칙에서 멈춥니다.
//  1. 로그인 (POST LoginPath)
//  2. 공개 로그인 페이지 (GET PublicPage)
//  3. 보호된 GET (쿠키 필요)
//  4. 등록된 hook
//  5. 정적 컨텐츠
//
// Auth 가 nil 이면 1~3 번 규칙을 건너뜁니다.
type Gate struct {
	Auth    *AuthConfig
	Content *content.Builder
	Logger  logging.Logger
	Now     func() time.Time
}

// New 는 Gate 를 생성합니다.
func New(logger logging.Logger, auth *AuthConfig, builder *content.Builder) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		Auth:    auth,
		Content: builder,
		Logger:  logger.With(logging.Fields{"component": "gate"}),
	}
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Dispatch 는 req 에 대한 응답을 만듭니다. 항상 nil 이 아닌 응답을 반환합니다.
func (g *Gate) Dispatch(req *protocol.Request) *protocol.Response {
	return g.dispatch(req, g.Logger)
}

// Handle 은 연결 단위 로거(conn_id 포함)로 Dispatch 를 수행합니다.
func (g *Gate) Handle(_ context.Context, req *protocol.Request, log logging.Logger) protocol.Reply {
	if log == nil {
		return g.Dispatch(req)
	}
	return g.dispatch(req, log.With(logging.Fields{"component": "gate"}))
}

func (g *Gate) dispatch(req *protocol.Request, log logging.Logger) *protocol.Response {
	log = log.With(logging.Fields{
		"method": req.Method,
		"path":   req.Path,
	})

	if resp := g.applyAuth(req, log); resp != nil {
		return resp
	}

	if route, ok := req.Hook.(*hook.Route); ok && route != nil {
		return g.invokeHook(req, route, log)
	}

	return g.Content.Serve(req.Path, "")
}

// applyAuth 는 1~3 번 규칙을 적용합니다. 어느 규칙도 해당하지 않으면 nil 입니다.
func (g *Gate) applyAuth(req *protocol.Request, log logging.Logger) *protocol.Response {
	a := g.Auth
	if a == nil {
		return nil
	}

	switch {
	case req.Method == "POST" && req.Path == a.LoginPath:
		form := protocol.ParseForm(req.Body)
		if form["username"] != a.Username || form["password"] != a.Password {
			log.Info("login failed", logging.Fields{"username": form["username"]})
			return errorpages.Unauthorized(g.now())
		}
		log.Info("login succeeded", logging.Fields{"username": form["username"]})
		req.Path = a.LandingPage
		return g.Content.Serve(req.Path, a.SetCookie())

	case req.Method == "GET" && req.Path == a.PublicPage:
		return g.Content.Serve(req.Path, "")

	case req.Method == "GET":
		if req.Cookies[a.CookieName] != a.CookieValue {
			log.Debug("auth cookie missing or invalid", nil)
			return errorpages.Unauthorized(g.now())
		}
		return g.Content.Serve(req.Path, "")
	}
	return nil
}

// invokeHook 은 hook 을 호출하고 결과를 JSON 응답으로 감쌉니다.
// hook 이 실패하거나 결과를 직렬화할 수 없으면 500 과 에러 envelope 을 반환합니다.
func (g *Gate) invokeHook(req *protocol.Request, route *hook.Route, log logging.Logger) *protocol.Response {
	resp := &protocol.Response{}
	res := route.Handler().Call(req, resp)

	body, err := res.MarshalPayload()
	if err != nil {
		log.Error("hook execution failed", logging.Fields{
			"route": route.Pattern(),
			"kind":  route.Handler().Kind().String(),
			"error": err.Error(),
		})
		observability.HookInvocationsTotal.WithLabelValues(route.Pattern(), "error").Inc()
		resp.SetStatus(500)
		body = hook.ErrorEnvelope(err)
	} else {
		observability.HookInvocationsTotal.WithLabelValues(route.Pattern(), "ok").Inc()
		if !resp.StatusSet() {
			resp.SetStatus(200)
		}
	}

	resp.Header.Set("Content-Type", "application/json")
	resp.StampStandardHeaders(g.now())
	resp.Body = body
	return resp
}

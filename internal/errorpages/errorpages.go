package errorpages

import (
	"fmt"
	"time"

	"github.com/dalbodeule/weaprous-gate/internal/protocol"
)

// 고정 본문. 클라이언트/테스트가 정확한 바이트를 기대하므로 바꾸지 않습니다.
const (
	NotFoundBody     = "404 Not Found"
	UnauthorizedBody = "401 Unauthorized"
)

// NotFound 는 애플리케이션 서버용 고정 404 응답을 만듭니다.
// 파일 없음, 경로 탈출 차단, 지원하지 않는 MIME 타입 모두 이 응답으로 끝납니다.
func NotFound() *protocol.Response {
	resp := protocol.NewResponse(404, "text/html", []byte(NotFoundBody))
	resp.Header.Set("Cache-Control", "no-cache")
	return resp
}

// Unauthorized 는 고정 401 응답을 만듭니다.
func Unauthorized(now time.Time) *protocol.Response {
	resp := protocol.NewResponse(401, "text/html", []byte(UnauthorizedBody))
	resp.StampStandardHeaders(now)
	return resp
}

// ProxyNotFound 는 백엔드에 연결하지 못했을 때 프록시가 클라이언트에게 돌려주는 고정 404 입니다.
func ProxyNotFound() *protocol.Response {
	return protocol.NewResponse(404, "text/plain", []byte(NotFoundBody))
}

// Render 는 status 에 대한 최소한의 텍스트 본문을 만듭니다. (예: "500 Internal Server Error")
func Render(status int) *protocol.Response {
	body := fmt.Sprintf("%d %s", status, protocol.StatusText(status))
	return protocol.NewResponse(status, "text/plain", []byte(body))
}

package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dalbodeule/weaprous-gate/internal/errorpages"
	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/protocol"
)

var (
	// ErrNotFound 는 파일이 없거나 읽을 수 없음을 나타냅니다.
	ErrNotFound = errors.New("content: not found")

	// ErrTraversal 은 요청 경로가 category root 밖으로 벗어났음을 나타냅니다.
	ErrTraversal = errors.New("content: path escapes root")
)

// Roots 는 category 별 루트 디렉터리입니다.
type Roots struct {
	Pages  string // text/html
	Static string // 정적 에셋
	Apps   string // 그 외 application/*
}

// Dir 은 category 에 해당하는 루트를 반환합니다.
func (r Roots) Dir(c Category) string {
	switch c {
	case CategoryPages:
		return r.Pages
	case CategoryStatic:
		return r.Static
	case CategoryApps:
		return r.Apps
	default:
		return ""
	}
}

// SafeJoin 은 요청 경로를 root 아래의 절대 경로로 바꿉니다.
// 앞쪽 "/" 를 떼고 root 와 합친 뒤 정규화하여, 결과가 root 밖이면 ErrTraversal 을 반환합니다.
// 파일 시스템을 읽기 전에 반드시 거쳐야 합니다.
func SafeJoin(root, reqPath string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty root", ErrNotFound)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}
	rel := strings.TrimLeft(filepath.FromSlash(reqPath), string(filepath.Separator))
	target, err := filepath.Abs(filepath.Join(absRoot, rel))
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", reqPath, err)
	}
	if target != absRoot && !strings.HasPrefix(target, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrTraversal, reqPath)
	}
	return target, nil
}

// Load 는 파일 전체를 메모리로 읽습니다. 캐시는 없으며 매 요청마다 다시 읽습니다.
// 어떤 읽기 에러든 ErrNotFound 로 감싸며, 부분 본문은 반환하지 않습니다.
// 길이 0 인 파일도 ErrNotFound 입니다.
func Load(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNotFound, p)
	}
	return data, nil
}

// Builder 는 요청 경로로부터 정적 컨텐츠 응답을 조립합니다.
type Builder struct {
	Roots  Roots
	Logger logging.Logger
	Now    func() time.Time // nil 이면 time.Now
}

// NewBuilder 는 Builder 를 생성합니다.
func NewBuilder(logger logging.Logger, roots Roots) *Builder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Builder{
		Roots:  roots,
		Logger: logger.With(logging.Fields{"component": "content"}),
	}
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Resolve 는 경로의 MIME 타입과 읽어올 파일의 절대 경로를 결정합니다.
func (b *Builder) Resolve(reqPath string) (mimeType, file string, err error) {
	mimeType = MIMEType(reqPath)
	cat, err := CategoryOf(mimeType)
	if err != nil {
		return mimeType, "", err
	}
	file, err = SafeJoin(b.Roots.Dir(cat), reqPath)
	return mimeType, file, err
}

// Serve 는 reqPath 의 컨텐츠로 200 응답을 만들고, 실패하면 고정 404 를 반환합니다.
// setCookie 가 비어 있지 않으면 Set-Cookie 헤더를 붙입니다.
func (b *Builder) Serve(reqPath, setCookie string) *protocol.Response {
	mimeType, file, err := b.Resolve(reqPath)
	if err != nil {
		level := b.Logger.Debug
		if errors.Is(err, ErrTraversal) {
			level = b.Logger.Warn
		}
		level("content resolve failed", logging.Fields{
			"path":  reqPath,
			"mime":  mimeType,
			"error": err.Error(),
		})
		return errorpages.NotFound()
	}

	body, err := Load(file)
	if err != nil {
		b.Logger.Debug("content load failed", logging.Fields{
			"path":  reqPath,
			"file":  file,
			"error": err.Error(),
		})
		return errorpages.NotFound()
	}

	resp := protocol.NewResponse(200, mimeType, body)
	resp.StampStandardHeaders(b.now())
	resp.SetCookie = setCookie
	return resp
}

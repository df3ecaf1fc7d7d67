package content

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
)

// ErrUnsupportedMIME 는 category root 를 정할 수 없는 MIME main type 을 나타냅니다.
var ErrUnsupportedMIME = errors.New("content: unsupported mime type")

// DefaultMIME 은 확장자로 타입을 정할 수 없을 때 사용합니다.
const DefaultMIME = "application/octet-stream"

// builtinTypes 는 시스템 mime.types 설정과 무관하게 고정되는 확장자 매핑입니다.
var builtinTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".xml":  "text/xml",
	".json": "application/json",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".wasm": "application/wasm",
	".ico":  "image/x-icon",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// MIMEType 은 경로의 확장자로 MIME 타입을 결정합니다. 파라미터(charset 등)는 제거합니다.
func MIMEType(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return DefaultMIME
	}
	if t, ok := builtinTypes[ext]; ok {
		return t
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return DefaultMIME
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return DefaultMIME
}

// Category 는 컨텐츠를 읽어올 디렉터리 분류입니다.
type Category int

const (
	CategoryPages  Category = iota + 1 // text/html
	CategoryStatic                     // css/js/이미지/오디오/비디오/구조화 데이터
	CategoryApps                       // 그 외 application/*
)

func (c Category) String() string {
	switch c {
	case CategoryPages:
		return "pages"
	case CategoryStatic:
		return "static"
	case CategoryApps:
		return "apps"
	default:
		return "unknown"
	}
}

var staticApplicationSubtypes = map[string]bool{
	"javascript":            true,
	"json":                  true,
	"xml":                   true,
	"zip":                   true,
	"pdf":                   true,
	"octet-stream":          true,
	"x-www-form-urlencoded": true,
}

// CategoryOf 는 MIME 타입을 category 로 매핑합니다.
// text/image/audio/video/application 외의 main type 은 ErrUnsupportedMIME 입니다.
func CategoryOf(mimeType string) (Category, error) {
	main, sub, ok := strings.Cut(mimeType, "/")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMIME, mimeType)
	}
	switch main {
	case "text":
		if sub == "html" {
			return CategoryPages, nil
		}
		return CategoryStatic, nil
	case "image", "audio", "video":
		return CategoryStatic, nil
	case "application":
		if staticApplicationSubtypes[sub] {
			return CategoryStatic, nil
		}
		return CategoryApps, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMIME, mimeType)
	}
}

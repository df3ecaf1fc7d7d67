package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LoggingConfig 는 공통 로그 설정을 담습니다.
type LoggingConfig struct {
	Level string // 예: "debug", "info", "warn", "error"
}

// AdminConfig 는 운영용 관리 plane(/metrics, /healthz, /api/v1/admin/*) 설정입니다.
// Listen 이 비어 있으면 관리 plane 을 띄우지 않습니다.
type AdminConfig struct {
	Listen string // 예: "127.0.0.1:9100"
	APIKey string // Authorization: Bearer {APIKey}
}

// ServerConfig 는 애플리케이션 서버(정적 컨텐츠 + 로그인 + hook) 프로세스 설정을 담습니다.
type ServerConfig struct {
	Listen         string        // 예: ":8080"
	WWWDir         string        // text/html 컨텐츠 루트
	StaticDir      string        // css/js/이미지 등 정적 에셋 루트
	AppsDir        string        // 그 외 application/* 컨텐츠 루트
	LoginUser      string        // POST /login 에서 비교할 사용자명
	LoginPass      string        // POST /login 에서 비교할 비밀번호
	AuthEnabled    bool          // false 면 로그인/쿠키 규칙을 건너뜁니다 (tracker 전용 배포)
	ReadTimeout    time.Duration // 클라이언트 소켓 read 데드라인
	RequestTimeout time.Duration // 요청 하나(헤더+본문)를 다 읽는 상한
	MaxConns       int           // 동시 연결 상한 (0 이면 무제한)

	HeartbeatTimeout time.Duration // tracker: 마지막 heartbeat 이후 peer 를 제거할 시간
	ReaperInterval   time.Duration // tracker: 정리 주기

	Admin   AdminConfig
	Logging LoggingConfig
}

// ProxyConfig 는 호스트 기반 리버스 프록시(gateway) 프로세스 설정을 담습니다.
type ProxyConfig struct {
	Listen         string        // 예: ":8080"
	RoutesFile     string        // YAML 라우팅 테이블 경로
	DefaultBackend string        // 알 수 없는 호스트/빈 목록일 때 사용할 백엔드
	ReadTimeout    time.Duration // 클라이언트 소켓 read 데드라인
	RequestTimeout time.Duration // 요청 하나(헤더+본문)를 다 읽는 상한
	BackendTimeout time.Duration // 백엔드 dial/write/read 데드라인
	MaxConns       int           // 동시 연결 상한 (0 이면 무제한)
	DBDSN          string        // 비어있지 않으면 PostgreSQL 에서 라우팅 테이블을 읽습니다.

	Admin   AdminConfig
	Logging LoggingConfig
}

var (
	dotenvOnce sync.Once
	dotenvErr  error
)

// loadDotEnvOnce 는 현재 작업 디렉터리의 .env 파일을 한 번만 읽어서 os.Environ 에 주입합니다.
// - KEY=VALUE, export KEY=VALUE 형식을 지원
// - # 으로 시작하는 줄은 주석으로 간주합니다.
func loadDotEnvOnce() {
	dotenvOnce.Do(func() {
		dotenvErr = loadDotEnvFile(".env")
	})
}

func loadDotEnvFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// .env 가 없으면 조용히 무시
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if key != "" {
			// 이미 OS 환경변수에 설정된 값이 우선합니다.
			if _, exists := os.LookupEnv(key); !exists {
				_ = os.Setenv(key, val)
			}
		}
	}
	return scanner.Err()
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	return d, nil
}

// loadLoggingFromEnv 는 공통 로그 설정을 .env/환경변수에서 읽어옵니다.
func loadLoggingFromEnv() LoggingConfig {
	return LoggingConfig{
		Level: getEnvOrDefault("HOP_LOG_LEVEL", "info"),
	}
}

func loadAdminFromEnv() AdminConfig {
	return AdminConfig{
		Listen: strings.TrimSpace(os.Getenv("HOP_ADMIN_LISTEN")),
		APIKey: strings.TrimSpace(os.Getenv("HOP_ADMIN_API_KEY")),
	}
}

// LoadServerConfigFromEnv 는 .env 를 한 번 읽어 현재 환경변수를 보완한 뒤
// "환경변수 > .env" 우선순위로 애플리케이션 서버 설정을 구성합니다.
func LoadServerConfigFromEnv() (*ServerConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	cfg := &ServerConfig{
		Listen:    normalizePort(os.Getenv("HOP_SERVER_LISTEN"), ":8080"),
		WWWDir:    getEnvOrDefault("HOP_SERVER_WWW_DIR", "www"),
		StaticDir: getEnvOrDefault("HOP_SERVER_STATIC_DIR", "static"),
		AppsDir:   getEnvOrDefault("HOP_SERVER_APPS_DIR", "apps"),
		LoginUser: getEnvOrDefault("HOP_SERVER_LOGIN_USER", "admin"),
		LoginPass: getEnvOrDefault("HOP_SERVER_LOGIN_PASSWORD", "password"),
		Admin:     loadAdminFromEnv(),
		Logging:   loadLoggingFromEnv(),
	}

	var err error
	if cfg.ReadTimeout, err = getEnvDuration("HOP_SERVER_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getEnvDuration("HOP_SERVER_REQUEST_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxConns, err = getEnvInt("HOP_SERVER_MAX_CONNS", 0); err != nil {
		return nil, err
	}
	if cfg.AuthEnabled, err = getEnvBool("HOP_SERVER_AUTH_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTimeout, err = getEnvDuration("HOP_TRACKER_HEARTBEAT_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReaperInterval, err = getEnvDuration("HOP_TRACKER_REAPER_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadProxyConfigFromEnv 는 .env 를 한 번 읽어 현재 환경변수를 보완한 뒤
// "환경변수 > .env" 우선순위로 프록시 설정을 구성합니다.
func LoadProxyConfigFromEnv() (*ProxyConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	cfg := &ProxyConfig{
		Listen:         normalizePort(os.Getenv("HOP_PROXY_LISTEN"), ":8080"),
		RoutesFile:     strings.TrimSpace(os.Getenv("HOP_PROXY_ROUTES_FILE")),
		DefaultBackend: getEnvOrDefault("HOP_PROXY_DEFAULT_BACKEND", "127.0.0.1:9000"),
		DBDSN:          strings.TrimSpace(os.Getenv("HOP_DB_DSN")),
		Admin:          loadAdminFromEnv(),
		Logging:        loadLoggingFromEnv(),
	}

	var err error
	if cfg.ReadTimeout, err = getEnvDuration("HOP_PROXY_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getEnvDuration("HOP_PROXY_REQUEST_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackendTimeout, err = getEnvDuration("HOP_PROXY_BACKEND_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxConns, err = getEnvInt("HOP_PROXY_MAX_CONNS", 0); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FirstNonEmpty 는 앞에서부터 처음으로 non-empty 인 문자열을 반환합니다.
// CLI 인자 > env 우선순위를 적용할 때 사용합니다.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// normalizePort 는 숫자 포트만 지정한 경우 ":" prefix 를 붙입니다. (예: "80" -> ":80")
func normalizePort(p string, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return def
	}
	if strings.HasPrefix(p, ":") {
		return p
	}
	if _, err := strconv.Atoi(p); err == nil {
		return ":" + p
	}
	return p
}

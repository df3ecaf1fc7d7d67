package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dalbodeule/weaprous-gate/internal/proxy"
)

// RoutesFile 은 HOP_PROXY_ROUTES_FILE 로 지정하는 YAML 라우팅 테이블입니다.
//
//	default_backend: 127.0.0.1:9000
//	routes:
//	  app1.local: 10.0.0.1:9001
//	  app2.local: [10.0.0.2:9002, 10.0.0.3:9002]
//	  app3.local:
//	    backends: [10.0.0.4:9003, 10.0.0.5:9003]
//	    policy: round-robin
type RoutesFile struct {
	DefaultBackend string                `yaml:"default_backend"`
	Routes         map[string]routeEntry `yaml:"routes"`
}

// routeEntry 는 단일 "host:port" 문자열, 문자열 목록, {backends, policy} 매핑을 모두 허용합니다.
type routeEntry struct {
	Backends []string
	Policy   string
}

func (e *routeEntry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		e.Backends = []string{single}
		return nil
	case yaml.SequenceNode:
		return value.Decode(&e.Backends)
	case yaml.MappingNode:
		var raw struct {
			Backends []string `yaml:"backends"`
			Policy   string   `yaml:"policy"`
		}
		if err := value.Decode(&raw); err != nil {
			return err
		}
		e.Backends = raw.Backends
		e.Policy = raw.Policy
		return nil
	default:
		return fmt.Errorf("line %d: route must be a backend, a list of backends or a mapping", value.Line)
	}
}

// ParseRoutes 는 YAML 바이트를 프록시 라우트 맵과 기본 백엔드로 변환합니다.
func ParseRoutes(data []byte) (map[string]proxy.Route, string, error) {
	var f RoutesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("parse routes yaml: %w", err)
	}

	routes := make(map[string]proxy.Route, len(f.Routes))
	for host, e := range f.Routes {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		backends := make([]string, 0, len(e.Backends))
		for _, b := range e.Backends {
			if b = strings.TrimSpace(b); b != "" {
				backends = append(backends, b)
			}
		}
		routes[host] = proxy.Route{
			Backends: backends,
			Policy:   proxy.Policy(strings.TrimSpace(e.Policy)),
		}
	}
	return routes, strings.TrimSpace(f.DefaultBackend), nil
}

// LoadRoutesFile 은 path 의 YAML 라우팅 테이블을 읽습니다.
func LoadRoutesFile(path string) (map[string]proxy.Route, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read routes file: %w", err)
	}
	return ParseRoutes(data)
}

package proxy

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolveRoundRobinIsCyclicAndFair(t *testing.T) {
	backends := []string{"10.0.0.1:9001", "10.0.0.2:9002", "10.0.0.3:9003"}
	r := NewResolver(NewTable(map[string]Route{
		"app.local": {Backends: backends, Policy: PolicyRoundRobin},
	}, ""))

	// 앞선 호출이 커서를 어디에 두었든 순서는 목록 순서대로 이어져야 합니다.
	first := r.Resolve("app.local").Backend
	start := -1
	for i, b := range backends {
		if b == first {
			start = i
		}
	}
	if start < 0 {
		t.Fatalf("unexpected backend %q", first)
	}

	const n = 30
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		got := r.Resolve("app.local").Backend
		want := backends[(start+1+i)%len(backends)]
		if got != want {
			t.Fatalf("resolution %d = %q, want %q", i, got, want)
		}
		counts[got]++
	}
	for _, b := range backends {
		if counts[b] != n/len(backends) {
			t.Errorf("%s visited %d times, want %d", b, counts[b], n/len(backends))
		}
	}
}

func TestResolveRoundRobinConcurrent(t *testing.T) {
	backends := []string{"10.0.0.1:1", "10.0.0.2:2", "10.0.0.3:3"}
	r := NewResolver(NewTable(map[string]Route{
		"app.local": {Backends: backends, Policy: PolicyRoundRobin},
	}, ""))

	const workers, per = 8, 300
	var (
		mu     sync.Mutex
		counts = make(map[string]int)
		wg     sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make(map[string]int)
			for i := 0; i < per; i++ {
				local[r.Resolve("app.local").Backend]++
			}
			mu.Lock()
			for k, v := range local {
				counts[k] += v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	want := map[string]int{}
	for _, b := range backends {
		want[b] = workers * per / len(backends)
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("uneven distribution (-want +got):\n%s", diff)
	}
}

func TestResolveFallbacks(t *testing.T) {
	r := NewResolver(NewTable(map[string]Route{
		"single.local": {Backends: []string{"10.0.0.1:9001"}, Policy: "single"},
		"empty.local":  {Backends: nil, Policy: PolicyRoundRobin},
		"first.local":  {Backends: []string{"10.0.0.5:1", "10.0.0.6:2"}, Policy: "least-conn"},
		"App.Local":    {Backends: []string{"10.0.0.7:7"}},
	}, "192.168.0.10:8000"))

	cases := []struct {
		host        string
		wantBackend string
		wantDefault bool
	}{
		{"single.local", "10.0.0.1:9001", false},
		{"unknown.local", "192.168.0.10:8000", true},
		{"empty.local", "192.168.0.10:8000", true},
		{"first.local", "10.0.0.5:1", false},
		{"first.local", "10.0.0.5:1", false},
		{"app.local:8080", "10.0.0.7:7", false},
		{"APP.LOCAL", "10.0.0.7:7", false},
	}
	for _, tc := range cases {
		got := r.Resolve(tc.host)
		if got.Backend != tc.wantBackend || got.Default != tc.wantDefault {
			t.Errorf("Resolve(%q) = %+v, want backend %q default=%v", tc.host, got, tc.wantBackend, tc.wantDefault)
		}
	}

	if got := NewResolver(nil).Resolve("x").Backend; got != DefaultBackend {
		t.Errorf("empty table default = %q, want %q", got, DefaultBackend)
	}
}

func TestNormalizeBackend(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1:9001":   "10.0.0.1:9001",
		"10.0.0.1:abc":    "10.0.0.1:9000",
		"10.0.0.1":        "10.0.0.1:9000",
		"backend:0":       "backend:9000",
		"backend:70000":   "backend:9000",
		" host:81 ":       "host:81",
		"[::1]:8080":      "[::1]:8080",
		"::1":             "[::1]:9000",
		"localhost:notes": "localhost:9000",
	}
	for in, want := range cases {
		if got := NormalizeBackend(in); got != want {
			t.Errorf("NormalizeBackend(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTableIsImmutableCopy(t *testing.T) {
	src := map[string]Route{"a.local": {Backends: []string{"1.1.1.1:1"}}}
	tbl := NewTable(src, "")
	src["a.local"].Backends[0] = "9.9.9.9:9"
	src["b.local"] = Route{Backends: []string{"2.2.2.2:2"}}

	if diff := cmp.Diff([]string{"a.local"}, tbl.Hosts()); diff != "" {
		t.Errorf("hosts changed (-want +got):\n%s", diff)
	}
	r, _ := tbl.Lookup("a.local")
	if r.Backends[0] != "1.1.1.1:1" {
		t.Errorf("backend list shared with caller: %v", r.Backends)
	}
}

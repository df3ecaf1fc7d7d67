package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session 은 accept 한 클라이언트 연결 하나를 나타냅니다. (ko)
// Session wraps one accepted client connection. (en)
//
// 모든 Read 호출 직전에 ReadTimeout 만큼의 데드라인을 새로 겁니다.
// requestTimeout 이 있으면 그 데드라인은 수락 시각 + requestTimeout 을 넘지 않으므로,
// 바이트를 조금씩 흘려보내는 클라이언트도 요청 하나를 무기한 끌 수 없습니다.
type Session struct {
	net.Conn
	id          string
	readTimeout time.Duration
	deadline    time.Time // 요청 전체를 다 읽어야 하는 시각. zero 면 제한 없음

	closeOnce sync.Once
	closeErr  error
}

func newSession(c net.Conn, readTimeout, requestTimeout time.Duration) *Session {
	s := &Session{
		Conn:        c,
		id:          uuid.NewString(),
		readTimeout: readTimeout,
	}
	if requestTimeout > 0 {
		s.deadline = time.Now().Add(requestTimeout)
	}
	return s
}

// ID 는 로그와 연결 테이블에서 쓰는 세션 식별자입니다.
func (s *Session) ID() string { return s.id }

// Read 는 데드라인을 갱신한 뒤 하위 연결에서 읽습니다.
func (s *Session) Read(p []byte) (int, error) {
	if d := s.readDeadline(time.Now()); !d.IsZero() {
		if err := s.Conn.SetReadDeadline(d); err != nil {
			return 0, err
		}
	}
	return s.Conn.Read(p)
}

// readDeadline 은 now 기준 read 데드라인과 요청 전체 데드라인 중 이른 쪽입니다.
func (s *Session) readDeadline(now time.Time) time.Time {
	var d time.Time
	if s.readTimeout > 0 {
		d = now.Add(s.readTimeout)
	}
	if !s.deadline.IsZero() && (d.IsZero() || s.deadline.Before(d)) {
		d = s.deadline
	}
	return d
}

// Close 는 하위 연결을 한 번만 닫습니다. Shutdown 과 연결 goroutine 이 모두 호출합니다.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Conn.Close()
	})
	return s.closeErr
}

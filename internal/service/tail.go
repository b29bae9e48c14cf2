package service

import (
	"sync"
	"time"

	"github.com/Strob0t/tideway/internal/domain/event"
)

const (
	DefaultTailLimit = 20
	MaxTailLimit     = 500
)

// TailEvent is one recently published event as reported by the admin API.
type TailEvent struct {
	ID          string    `json:"id"`
	Payload     string    `json:"payload"`
	PublishedAt time.Time `json:"publishedAt"`
}

// tailRing keeps the last size events of a topic. A nil ring records
// nothing.
type tailRing struct {
	mu    sync.Mutex
	buf   []TailEvent
	start int
	n     int
}

func newTailRing(size int) *tailRing {
	if size <= 0 {
		return nil
	}
	return &tailRing{buf: make([]TailEvent, size)}
}

func (t *tailRing) add(env event.Envelope) {
	if t == nil {
		return
	}
	ev := TailEvent{ID: env.ID(), Payload: string(env.Payload()), PublishedAt: env.CreatedAt()}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n < len(t.buf) {
		t.buf[(t.start+t.n)%len(t.buf)] = ev
		t.n++
		return
	}
	t.buf[t.start] = ev
	t.start = (t.start + 1) % len(t.buf)
}

// last returns up to limit events, oldest first.
func (t *tailRing) last(limit int) []TailEvent {
	if limit <= 0 {
		limit = DefaultTailLimit
	}
	if limit > MaxTailLimit {
		limit = MaxTailLimit
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if limit > t.n {
		limit = t.n
	}
	out := make([]TailEvent, 0, limit)
	for i := t.n - limit; i < t.n; i++ {
		out = append(out, t.buf[(t.start+i)%len(t.buf)])
	}
	return out
}

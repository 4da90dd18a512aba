package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomhub/models"
)

// persister appends messages to the history store from a single goroutine,
// keeping per-room order without ever blocking the caller.
type persister struct {
	store   HistoryStore
	queue   chan models.Message
	timeout time.Duration
	log     zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

func newPersister(store HistoryStore, size int, timeout time.Duration, logger zerolog.Logger) *persister {
	if size <= 0 {
		size = 1024
	}
	p := &persister{
		store:   store,
		queue:   make(chan models.Message, size),
		timeout: timeout,
		log:     logger,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) enqueue(msg models.Message) {
	select {
	case p.queue <- msg:
	default:
		p.log.Error().Err(ErrPersistence).Str("room", msg.Room).Str("user", msg.Author).Msg("history queue full, message dropped")
	}
}

func (p *persister) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.store.Append(ctx, msg); err != nil {
			p.log.Error().Err(fmt.Errorf("%w: %v", ErrPersistence, err)).Str("room", msg.Room).Msg("append history")
		}
		cancel()
	}
}

// stop drains whatever is queued and waits for the last append.
func (p *persister) stop() {
	p.stopOnce.Do(func() {
		close(p.queue)
	})
	<-p.done
}

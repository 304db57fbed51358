// Package bus abstracts event transport between publishers and the local
// hub. The memory bus is the default single-process path; the redis bus
// exists for multi-process fan-out (REALTIME_BUS=redis).
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/hubrts/youtube-command-deck/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, evt realtime.Event) error
	StartForwarder(ctx context.Context, onMsg func(evt realtime.Event)) error
	Close() error
}

type memoryBus struct {
	mu    sync.RWMutex
	onMsg func(evt realtime.Event)
}

func NewMemoryBus() Bus {
	return &memoryBus{}
}

func (b *memoryBus) Publish(_ context.Context, evt realtime.Event) error {
	b.mu.RLock()
	onMsg := b.onMsg
	b.mu.RUnlock()
	if onMsg == nil {
		return nil
	}
	onMsg(evt)
	return nil
}

func (b *memoryBus) StartForwarder(_ context.Context, onMsg func(evt realtime.Event)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	b.onMsg = onMsg
	b.mu.Unlock()
	return nil
}

func (b *memoryBus) Close() error { return nil }

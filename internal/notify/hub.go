package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/campusfriends/backend/internal/relationships"
)

// HubConfig controls the delivery queue of a Hub.
type HubConfig struct {
	QueueSize int
	Workers   int
}

// Callback receives a committed change. It must not block for long; slow
// consumers should hand the change off to their own goroutine.
type Callback = func(relationships.Change)

// Hub fans committed relationship changes out to subscribers. Publish never
// blocks the transition that produced the change: when the queue is full the
// change is dropped and logged, and clients recover by re-reading status.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	byUser map[string]map[uint64]Callback
	all    map[uint64]Callback

	events chan relationships.Change
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var errHubClosed = errors.New("notify hub closed")

// NewHub starts the delivery workers.
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger: logger,
		byUser: make(map[string]map[uint64]Callback),
		all:    make(map[uint64]Callback),
		events: make(chan relationships.Change, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	h.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go h.worker()
	}
	return h
}

// Subscribe registers cb for changes involving userID. The returned function
// removes the subscription and is safe to call more than once.
func (h *Hub) Subscribe(userID string, cb Callback) func() {
	if userID == "" || cb == nil {
		return func() {}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	subs, ok := h.byUser[userID]
	if !ok {
		subs = make(map[uint64]Callback)
		h.byUser[userID] = subs
	}
	subs[id] = cb
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.byUser[userID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.byUser, userID)
				}
			}
		})
	}
}

// SubscribeAll registers cb for every change.
func (h *Hub) SubscribeAll(cb Callback) func() {
	if cb == nil {
		return func() {}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.all[id] = cb
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.all, id)
			h.mu.Unlock()
		})
	}
}

// Subscribers reports how many callbacks are registered for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Publish queues change for delivery.
func (h *Hub) Publish(ctx context.Context, change relationships.Change) {
	if err := h.enqueue(change); err != nil {
		h.logger.Warn("relationship change dropped",
			"transition", change.Transition, "kind", change.Kind, "request_id", change.RequestID, "error", err)
	}
}

var errQueueFull = errors.New("notify queue full")

func (h *Hub) enqueue(change relationships.Change) (err error) {
	select {
	case <-h.ctx.Done():
		return errHubClosed
	default:
	}

	// Shutdown closes the channel; a racing send must not bring the caller down.
	defer func() {
		if recover() != nil {
			err = errHubClosed
		}
	}()

	select {
	case h.events <- change:
		return nil
	default:
		return errQueueFull
	}
}

// Shutdown stops accepting changes and waits for queued ones to be delivered.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.once.Do(func() {
		h.cancel()
		close(h.events)
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (h *Hub) worker() {
	defer h.wg.Done()
	for change := range h.events {
		h.deliver(change)
	}
}

func (h *Hub) deliver(change relationships.Change) {
	h.mu.RLock()
	targets := make([]Callback, 0, len(h.all)+2)
	for _, cb := range h.all {
		targets = append(targets, cb)
	}
	for i, userID := range change.Users {
		if i == 1 && userID == change.Users[0] {
			break
		}
		for _, cb := range h.byUser[userID] {
			targets = append(targets, cb)
		}
	}
	h.mu.RUnlock()

	for _, cb := range targets {
		h.invoke(cb, change)
	}
}

func (h *Hub) invoke(cb Callback, change relationships.Change) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("relationship change subscriber panicked", "transition", change.Transition, "panic", r)
		}
	}()
	cb(change)
}

var _ relationships.Notifier = (*Hub)(nil)

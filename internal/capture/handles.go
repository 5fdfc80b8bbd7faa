package capture

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Broker stands in for the host platform's capture primitive: it mints
// single-use handles, opens the stream behind a claimed handle, and enforces
// one live capture per tab.
type Broker struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	factory StreamFactory
	handles map[string]*mintedHandle
	active  map[int]bool
}

type mintedHandle struct {
	tabID    int
	mintedAt time.Time
	consumed bool
}

func NewBroker(factory StreamFactory, ttl time.Duration) *Broker {
	return &Broker{
		ttl:     ttl,
		clock:   time.Now,
		factory: factory,
		handles: make(map[string]*mintedHandle),
		active:  make(map[int]bool),
	}
}

// Mint issues a single-use handle authorizing one capture of tabID. Fails
// with ErrTabBusy while a capture of that tab is live.
func (b *Broker) Mint(tabID int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active[tabID] {
		return "", ErrTabBusy
	}
	id := uuid.NewString()
	b.handles[id] = &mintedHandle{tabID: tabID, mintedAt: b.clock()}
	return id, nil
}

// Claim consumes a handle and opens its stream. The returned release func
// must be called when the capture ends.
func (b *Broker) Claim(handle string) (Stream, int, func(), error) {
	b.mu.Lock()
	h, ok := b.handles[handle]
	if !ok || h.consumed || b.clock().Sub(h.mintedAt) > b.ttl {
		b.mu.Unlock()
		return nil, 0, nil, ErrHandleInvalid
	}
	if b.active[h.tabID] {
		b.mu.Unlock()
		return nil, 0, nil, ErrTabBusy
	}
	h.consumed = true
	tabID := h.tabID
	b.mu.Unlock()

	stream, err := b.factory(tabID)
	if err != nil {
		return nil, 0, nil, err
	}
	if stream == nil {
		return nil, 0, nil, ErrCaptureUnavailable
	}

	b.mu.Lock()
	b.active[tabID] = true
	b.mu.Unlock()

	release := func() {
		b.mu.Lock()
		delete(b.active, tabID)
		b.mu.Unlock()
	}
	return stream, tabID, release, nil
}

// Captured reports whether a live capture holds tabID.
func (b *Broker) Captured(tabID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[tabID]
}

// ForceRelease clears a live capture registration and any unconsumed handles
// for the tab. Used by the coordinator before re-acquiring, since a crashed
// session can leave the registration dangling.
func (b *Broker) ForceRelease(tabID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, tabID)
	for id, h := range b.handles {
		if h.tabID == tabID && !h.consumed {
			delete(b.handles, id)
		}
	}
}

package capture

import (
	"fmt"
	"sync"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// claims tracks which session holds each physical device
var claims = &registry{held: make(map[string]string)}

type registry struct {
	mu   sync.Mutex
	held map[string]string // device key -> session id
}

func (r *registry) acquire(key, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.held[key]; ok {
		return fmt.Errorf("%w: %s held by session %s", sensing.ErrDeviceBusy, key, holder)
	}
	r.held[key] = owner
	return nil
}

func (r *registry) release(key, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held[key] == owner {
		delete(r.held, key)
	}
}

package sendable

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// ChannelType is a registered sendable model type. Eligible and ByID
// close over the concrete gorm model; the scheduler only ever sees the
// Sendable interface.
type ChannelType struct {
	// Name identifies the type in the queue ledger and the async queue
	// envelope. It must be stable across deploys.
	Name string
	Kind Kind

	Eligible func(ctx context.Context, db *gorm.DB) ([]Sendable, error)
	ByID     func(ctx context.Context, db *gorm.DB, id uint) (Sendable, error)
}

// Registry is the explicit list of channel types, built at process
// startup and handed to the scheduler. It replaces scanning "all model
// types" for sendables.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]ChannelType
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]ChannelType)}
}

func (r *Registry) Register(ct ChannelType) error {
	if ct.Name == "" {
		return fmt.Errorf("channel type requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[ct.Name]; dup {
		return fmt.Errorf("channel type %q already registered", ct.Name)
	}
	r.byName[ct.Name] = ct
	r.order = append(r.order, ct.Name)
	return nil
}

// Types returns registered channel types in registration order.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChannelType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *Registry) ByName(name string) (ChannelType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.byName[name]
	return ct, ok
}

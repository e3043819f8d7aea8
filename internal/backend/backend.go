// Package backend holds the delivery provider integrations. Each backend
// converts an Email row into a provider payload, performs the network
// call, and (for webhook-capable providers) parses delivery-event
// payloads back into catalog events.
package backend

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/craiglabenz/grapevine/internal/model"
)

// Backend is a provider integration. Send reports (delivered, err):
// err is reserved for unexpected transport-boundary failures; an orderly
// provider rejection is (false, nil) with the reason written to the
// email's log. ProcessEvent receives the event catalog per call; the
// caller reloads it each processor run instead of caching process-wide.
type Backend interface {
	Name() string
	ListensForEvents() bool
	Send(ctx context.Context, email *model.Email) (bool, error)
	ProcessEvent(ctx context.Context, raw *model.RawEvent, catalog map[string]model.Event) (success bool, secondsTaken float64)
}

// Registry maps provider names to constructed backends. Populated once
// at process startup; replaces resolution by dotted import path.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]Backend
	defaultName string
}

func NewRegistry(defaultName string) *Registry {
	return &Registry{byName: make(map[string]Backend), defaultName: defaultName}
}

func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[b.Name()] = b
}

func (r *Registry) ByName(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	return b, ok
}

func (r *Registry) Default() (Backend, bool) { return r.ByName(r.defaultName) }

func (r *Registry) DefaultName() string { return r.defaultName }

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// guidArgName is the correlation key embedded in outbound messages and
// echoed back inside provider event payloads.
const guidArgName = "grapevine-guid"

// timeFromSeconds converts a provider Unix-seconds timestamp into an
// explicit UTC time; event timestamps are never stored naive/local.
func timeFromSeconds(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

// eventNameOverrides maps provider event-type strings that do not
// normalize to a catalog name by simple capitalization.
var eventNameOverrides = map[string]string{
	"spamreport": model.EventSpamReport,
}

// catalogEventName normalizes a provider event-type string to the
// catalog's naming ("open" -> "Open", "spamreport" -> "Spam Report").
func catalogEventName(provider string) string {
	lower := strings.ToLower(provider)
	if name, ok := eventNameOverrides[lower]; ok {
		return name
	}
	if lower == "" {
		return ""
	}
	return strings.ToUpper(lower[:1]) + lower[1:]
}

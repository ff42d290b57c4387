// Package state holds the last known controller state.
//
// A Model is written by the session's notification reader and read
// concurrently by any number of callers. Readers get immutable snapshots
// through an atomic pointer, so reading never blocks on a writer.
package state

import (
	"maps"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DeviceState is an immutable snapshot of the controller state.
type DeviceState struct {
	// Revision increases by one for every applied update that changed at
	// least one attribute.
	Revision  uint64
	UpdatedAt time.Time
	values    map[protocol.Attribute]any
}

// Get returns the last known value of attr. A nil value with ok set means
// the controller reported the attribute as unavailable.
func (s DeviceState) Get(attr protocol.Attribute) (any, bool) {
	v, ok := s.values[attr]
	return v, ok
}

// Values returns a copy of all known attributes.
func (s DeviceState) Values() map[protocol.Attribute]any {
	return maps.Clone(s.values)
}

// Len returns the number of known attributes.
func (s DeviceState) Len() int {
	return len(s.values)
}

// Ordered returns the known attributes in display order.
func (s DeviceState) Ordered() *orderedmap.OrderedMap[string, any] {
	om := orderedmap.New[string, any]()
	for _, attr := range protocol.Attributes {
		if v, ok := s.values[attr]; ok {
			om.Set(string(attr), v)
		}
	}
	return om
}

// Change describes one committed update.
type Change struct {
	Previous DeviceState
	Current  DeviceState
	// Changed lists the attributes whose value differs, in display order.
	Changed []protocol.Attribute
}

// Listener observes committed updates.
type Listener func(Change)

// Model is the single in-memory copy of the controller state.
type Model struct {
	logger *logrus.Logger
	now    func() time.Time

	writeMu sync.Mutex
	current atomic.Pointer[DeviceState]

	listenersMu sync.RWMutex
	listeners   map[uint64]Listener
	nextID      uint64
}

// NewModel creates an empty model. A nil logger falls back to logrus.New().
func NewModel(logger *logrus.Logger) *Model {
	if logger == nil {
		logger = logrus.New()
	}
	m := &Model{
		logger:    logger,
		now:       time.Now,
		listeners: make(map[uint64]Listener),
	}
	m.current.Store(&DeviceState{values: map[protocol.Attribute]any{}})
	return m
}

// Snapshot returns the current state. Published states are never mutated,
// so the snapshot shares storage with the model.
func (m *Model) Snapshot() DeviceState {
	return *m.current.Load()
}

// Apply merges updates into the state. The revision is bumped once if at
// least one value changed; re-applying identical values is a no-op.
// Listeners run synchronously after the new state is visible to readers.
func (m *Model) Apply(updates map[protocol.Attribute]any) bool {
	if len(updates) == 0 {
		return false
	}

	m.writeMu.Lock()
	prev := m.current.Load()

	var changed []protocol.Attribute
	for _, attr := range protocol.Attributes {
		v, ok := updates[attr]
		if !ok {
			continue
		}
		old, known := prev.values[attr]
		if known && reflect.DeepEqual(old, v) {
			continue
		}
		changed = append(changed, attr)
	}
	if len(changed) == 0 {
		m.writeMu.Unlock()
		return false
	}

	values := maps.Clone(prev.values)
	for _, attr := range changed {
		values[attr] = updates[attr]
	}
	next := &DeviceState{Revision: prev.Revision + 1, UpdatedAt: m.now(), values: values}
	m.current.Store(next)
	m.writeMu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"revision": next.Revision,
		"changed":  changed,
	}).Debug("Device state updated")

	m.notify(Change{Previous: *prev, Current: *next, Changed: changed})
	return true
}

// ApplyResponse applies the attribute values carried by a decoded response.
func (m *Model) ApplyResponse(resp protocol.Response) bool {
	return m.Apply(resp.Values)
}

// OnChange registers a listener and returns its unsubscribe function.
// Listeners run on the goroutine calling Apply and must not block it.
func (m *Model) OnChange(l Listener) func() {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
		})
	}
}

func (m *Model) notify(c Change) {
	m.listenersMu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		m.invoke(l, c)
	}
}

func (m *Model) invoke(l Listener, c Change) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"revision": c.Current.Revision,
				"panic":    r,
			}).Error("State listener panicked")
		}
	}()
	l(c)
}

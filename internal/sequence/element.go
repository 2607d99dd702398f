package sequence

import (
	"sort"
	"strings"
	"sync"
)

// EventName is the type of the completion notification.
const EventName = "keyboardSequence"

// Detail is the completion payload.
type Detail struct {
	Sequence string `json:"sequence"`
}

// CustomEvent is a notification dispatched on an element.
type CustomEvent struct {
	Type   string `json:"type"`
	Detail Detail `json:"detail"`
	// Target is the element the event was dispatched on. It is filled in
	// by the dispatching element.
	Target Element `json:"-"`
}

// Element is the target of a key event and the receiver of completion
// notifications.
type Element interface {
	// TagName identifies the kind of element, e.g. "input", "textarea",
	// "body" or "device".
	TagName() string
	DispatchEvent(ev CustomEvent)
}

// isTextInput reports whether el accepts typed text.
func isTextInput(el Element) bool {
	switch strings.ToLower(el.TagName()) {
	case "input", "textarea":
		return true
	default:
		return false
	}
}

// Listener receives dispatched events.
type Listener func(ev CustomEvent)

type listenerSet struct {
	mu     sync.RWMutex
	nextID int
	byType map[string]map[int]Listener
}

func (s *listenerSet) add(typ string, fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byType == nil {
		s.byType = make(map[string]map[int]Listener)
	}
	if s.byType[typ] == nil {
		s.byType[typ] = make(map[int]Listener)
	}
	s.nextID++
	id := s.nextID
	s.byType[typ][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.byType[typ], id)
	}
}

func (s *listenerSet) snapshot(typ string) []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.byType[typ]))
	for id := range s.byType[typ] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byType[typ][id])
	}
	return out
}

// Scope groups the elements of one event source. Listeners added to the
// scope see every event dispatched on any of its elements, after the
// element's own listeners.
type Scope struct {
	listeners listenerSet

	mu       sync.Mutex
	elements map[string]*Node
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{elements: make(map[string]*Node)}
}

// Element returns the element with the given tag and id, creating it on
// first use.
func (s *Scope) Element(tag, id string) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tag + "#" + id
	if n, ok := s.elements[key]; ok {
		return n
	}
	n := &Node{tag: tag, id: id, scope: s}
	s.elements[key] = n
	return n
}

// AddEventListener registers fn for events of type typ on every element.
// The returned func removes it.
func (s *Scope) AddEventListener(typ string, fn Listener) func() {
	return s.listeners.add(typ, fn)
}

// Node is the Element implementation handed out by Scope.
type Node struct {
	tag       string
	id        string
	scope     *Scope
	listeners listenerSet
}

// TagName returns the element tag.
func (n *Node) TagName() string { return n.tag }

// ID returns the element id, e.g. a device path.
func (n *Node) ID() string { return n.id }

// String returns tag#id.
func (n *Node) String() string { return n.tag + "#" + n.id }

// AddEventListener registers fn for events of type typ on this element.
func (n *Node) AddEventListener(typ string, fn Listener) func() {
	return n.listeners.add(typ, fn)
}

// DispatchEvent delivers ev to this element's listeners and then to the
// scope's.
func (n *Node) DispatchEvent(ev CustomEvent) {
	ev.Target = n
	for _, fn := range n.listeners.snapshot(ev.Type) {
		fn(ev)
	}
	if n.scope != nil {
		for _, fn := range n.scope.listeners.snapshot(ev.Type) {
			fn(ev)
		}
	}
}

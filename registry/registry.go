// Package registry holds the priority-ordered list of card handlers and
// drives detection across all of them for one card.
//
// Generalized from the teacher's nfc/multimanager package: there, named
// Manager entries are tried in registration order to open a device; here,
// named Handler entries are tried to recognise a card, and the registry
// additionally ranks results by a handler-reported confidence rather than
// stopping at the first success, since more than one handler can claim a
// card (e.g. a PKCS#15 applet alongside a generic eID AID).
package registry

import (
	"log"
	"sort"
	"sync"

	"github.com/tomkp/card-spy-core/handler"
)

// Detected pairs a registered handler with its own verdict on one card.
type Detected struct {
	HandlerID string
	Handler   handler.Handler
	Result    handler.DetectionResult
}

type entry struct {
	id       string
	handler  handler.Handler
	priority int
}

// Registry holds named handlers ordered by registration priority, used as
// the fallback probe order when confidence does not discriminate.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // descending by priority, ties broken by registration order
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds h under the given priority, replacing any existing entry
// with the same ID, and re-sorts the probe order descending by priority.
func (r *Registry) Register(h handler.Handler, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := h.ID()
	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = &entry{id: id, handler: h, priority: priority}

	sort.SliceStable(r.order, func(i, j int) bool {
		return r.entries[r.order[i]].priority > r.entries[r.order[j]].priority
	})

	log.Printf("[registry] handler registered: %s (priority %d)", id, priority)
}

// Get retrieves a registered handler by ID.
func (r *Registry) Get(id string) (handler.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// DetectHandlers probes every registered handler against one card
// sequentially, in priority order. A handler that returns an error is
// logged and excluded from the result set rather than aborting the whole
// detection pass. Results are returned sorted by confidence, descending;
// only handlers that reported Matched=true are included.
func (r *Registry) DetectHandlers(ctx handler.CommandContext) []Detected {
	r.mu.RLock()
	ordered := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		ordered = append(ordered, r.entries[id])
	}
	r.mu.RUnlock()

	var matches []Detected
	for _, e := range ordered {
		result, err := probe(e.handler, ctx)
		if err != nil {
			log.Printf("[registry] handler %s: detect failed: %v", e.id, err)
			continue
		}
		if result.Matched {
			matches = append(matches, Detected{HandlerID: e.id, Handler: e.handler, Result: result})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Result.Confidence > matches[j].Result.Confidence
	})
	return matches
}

// DetectHandlersParallel behaves like DetectHandlers but runs every probe
// concurrently. Safe only when the caller's transport guarantees its own
// serialisation of APDU exchanges (a single card reader cannot satisfy two
// concurrent transactions), so this is opt-in rather than the default.
func (r *Registry) DetectHandlersParallel(ctx handler.CommandContext) []Detected {
	r.mu.RLock()
	ordered := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		ordered = append(ordered, r.entries[id])
	}
	r.mu.RUnlock()

	results := make([]Detected, len(ordered))
	matched := make([]bool, len(ordered))
	var wg sync.WaitGroup
	for i, e := range ordered {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			result, err := probe(e.handler, ctx)
			if err != nil {
				log.Printf("[registry] handler %s: detect failed: %v", e.id, err)
				return
			}
			if result.Matched {
				results[i] = Detected{HandlerID: e.id, Handler: e.handler, Result: result}
				matched[i] = true
			}
		}(i, e)
	}
	wg.Wait()

	var matches []Detected
	for i, ok := range matched {
		if ok {
			matches = append(matches, results[i])
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Result.Confidence > matches[j].Result.Confidence
	})
	return matches
}

// DetectBestHandler returns the highest-confidence match, or false if no
// registered handler matched the card.
func (r *Registry) DetectBestHandler(ctx handler.CommandContext) (Detected, bool) {
	matches := r.DetectHandlers(ctx)
	if len(matches) == 0 {
		return Detected{}, false
	}
	return matches[0], true
}

// probe isolates a single handler's Detect call so a panicking handler
// cannot bring down the whole detection pass.
func probe(h handler.Handler, ctx handler.CommandContext) (result handler.DetectionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: h.ID(), Op: "Detect", Message: "handler panicked during detection"}
		}
	}()
	return h.Detect(ctx)
}

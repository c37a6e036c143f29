// internal/discovery/frontier.go
package discovery

import (
	"net/url"
	"slices"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"go.uber.org/zap"
)

// FrontierState is a point-in-time copy of a Frontier.
type FrontierState struct {
	Visited []string `json:"visited"`
	Pending []string `json:"pending"`
}

// Frontier is the bounded set of discovered and visited URLs for one session.
// It is owned by a single run loop and is not safe for concurrent use.
//
// The bound is enforced on insertion: |visited| + |pending| never exceeds
// maxPages through Add, and |visited| never exceeds maxPages at all.
type Frontier struct {
	maxPages int
	scope    ScopeManager
	logger   *zap.Logger

	visited      map[string]struct{}
	visitedOrder []string
	pending      []string
	pendingSet   map[string]struct{}
}

// NewFrontier creates an empty frontier. scope may be nil to accept any http(s) URL.
func NewFrontier(maxPages int, scope ScopeManager, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		maxPages:   maxPages,
		scope:      scope,
		logger:     logger.Named("frontier"),
		visited:    make(map[string]struct{}),
		pendingSet: make(map[string]struct{}),
	}
}

// Seed queues url for exploration unless it is already known. The capacity
// check is skipped so a seed is always reachable on an empty frontier.
func (f *Frontier) Seed(rawURL string) bool {
	key, ok := f.canonical(rawURL)
	if !ok || f.known(key) {
		return false
	}
	f.push(key)
	return true
}

// Add queues a discovered url. It is a silent no-op when the frontier is at
// capacity or the url has already been seen.
func (f *Frontier) Add(rawURL string) bool {
	key, ok := f.canonical(rawURL)
	if !ok || f.known(key) {
		return false
	}
	if len(f.visited)+len(f.pending) >= f.maxPages {
		f.logger.Debug("Frontier at capacity, discarding URL.", zap.String("url", key))
		return false
	}
	f.push(key)
	return true
}

// Next pops the earliest queued url.
func (f *Frontier) Next() (string, bool) {
	if len(f.pending) == 0 {
		return "", false
	}
	next := f.pending[0]
	f.pending = f.pending[1:]
	delete(f.pendingSet, next)
	return next, true
}

// MarkVisited records url as visited, removing it from pending. It returns
// false if the url was already visited or the visit cap has been reached.
func (f *Frontier) MarkVisited(rawURL string) bool {
	key, ok := f.canonical(rawURL)
	if !ok {
		return false
	}
	if _, seen := f.visited[key]; seen {
		return false
	}
	if len(f.visited) >= f.maxPages {
		return false
	}
	if _, queued := f.pendingSet[key]; queued {
		delete(f.pendingSet, key)
		f.pending = slices.DeleteFunc(f.pending, func(p string) bool { return p == key })
	}
	f.visited[key] = struct{}{}
	f.visitedOrder = append(f.visitedOrder, key)
	return true
}

// IsVisited reports whether the canonical form of url has been visited.
func (f *Frontier) IsVisited(rawURL string) bool {
	key, ok := f.canonical(rawURL)
	if !ok {
		return false
	}
	_, seen := f.visited[key]
	return seen
}

// InScope reports whether u belongs to the session's site.
func (f *Frontier) InScope(u *url.URL) bool {
	return f.scope == nil || f.scope.IsInScope(u)
}

// AtCapacity reports whether no further page may be visited.
func (f *Frontier) AtCapacity() bool {
	return len(f.visited) >= f.maxPages
}

// Visited returns the visited urls in visit order.
func (f *Frontier) Visited() []string {
	return slices.Clone(f.visitedOrder)
}

// State returns a copy of the frontier contents.
func (f *Frontier) State() FrontierState {
	return FrontierState{
		Visited: slices.Clone(f.visitedOrder),
		Pending: slices.Clone(f.pending),
	}
}

// DiscoverLinks offers every in-scope link in the snapshot to Add and returns
// how many were admitted.
func (f *Frontier) DiscoverLinks(snapshot *schemas.PageSnapshot) int {
	if snapshot == nil {
		return 0
	}
	admitted := 0
	for _, el := range snapshot.InteractiveElements {
		if el.Href == "" {
			continue
		}
		u, err := normalizeAndValidate(f.scope, el.Href, snapshot.URL)
		if err != nil {
			f.logger.Debug("Skipping link.", zap.String("href", el.Href), zap.Error(err))
			continue
		}
		if f.Add(u.String()) {
			admitted++
		}
	}
	return admitted
}

func (f *Frontier) canonical(rawURL string) (string, bool) {
	u, err := Canonicalize(rawURL, "")
	if err != nil {
		f.logger.Debug("Rejecting URL.", zap.String("url", rawURL), zap.Error(err))
		return "", false
	}
	return u.String(), true
}

func (f *Frontier) known(key string) bool {
	if _, ok := f.visited[key]; ok {
		return true
	}
	_, ok := f.pendingSet[key]
	return ok
}

func (f *Frontier) push(key string) {
	f.pending = append(f.pending, key)
	f.pendingSet[key] = struct{}{}
}

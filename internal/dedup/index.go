// Package dedup tracks which assistant utterances were already spoken in a
// session.
package dedup

import "sync"

// Index is the set of spoken fingerprints. It only grows, except for explicit
// Remove calls used by the repeat command.
type Index struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	order []string
}

func New() *Index {
	return &Index{keys: make(map[string]struct{})}
}

func (x *Index) Has(fp string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.keys[fp]
	return ok
}

// Add records fp and reports whether it was new.
func (x *Index) Add(fp string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.keys[fp]; ok {
		return false
	}
	x.keys[fp] = struct{}{}
	x.order = append(x.order, fp)
	return true
}

func (x *Index) Remove(fp string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.keys[fp]; !ok {
		return
	}
	delete(x.keys, fp)
	for i := len(x.order) - 1; i >= 0; i-- {
		if x.order[i] == fp {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
}

// Latest returns the most recently added fingerprint still present.
func (x *Index) Latest() (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.order) == 0 {
		return "", false
	}
	return x.order[len(x.order)-1], true
}

func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.keys)
}

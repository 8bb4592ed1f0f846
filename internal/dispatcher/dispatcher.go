// Package dispatcher implements the shortest-path module resolver from
// given the set of file types currently available on an
// analysis and a target module, it resolves which module should run next
// to make the target runnable.
package dispatcher

import (
	"errors"
	"fmt"

	"github.com/fame/core/internal/catalog"
)

// ErrNoPath is returned when no chain of transforms can make the target
// module (or a preloading candidate) runnable.
var ErrNoPath = errors.New("dispatcher: no path")

// Dispatcher is stateless over the catalog: every call re-reads it, so a
// catalog reload is picked up on the next resolution with no extra wiring.
type Dispatcher struct {
	catalog *catalog.Catalog
}

// New returns a Dispatcher backed by c.
func New(c *catalog.Catalog) *Dispatcher {
	return &Dispatcher{catalog: c}
}

// pathCandidate is one resolved route to a destination type: the module
// to run, the hop count, and whether it is a direct transform (empty
// acts_on) rather than a regular one.
type pathCandidate struct {
	module string
	length int
	direct bool
}

// tier ranks a candidate per ordering rule: a regular
// transform of length 1 always wins; a direct transform beats any regular
// transform longer than 1 hop; otherwise shorter regular paths win.
func tier(c pathCandidate) int {
	switch {
	case !c.direct && c.length == 1:
		return 0
	case c.direct:
		return 1
	default:
		return 2
	}
}

// better reports whether a strictly outranks b under the tier rule, with
// length as the tiebreak within tier 2. Equal rank keeps whichever was
// discovered first (registration order), so better returns false on ties.
func better(a, b pathCandidate) bool {
	ta, tb := tier(a), tier(b)
	if ta != tb {
		return ta < tb
	}
	if ta == 2 {
		return a.length < b.length
	}
	return false
}

// NextModule returns the name of the module that should run next to make
// target runnable, given the file types currently present on the analysis
// and the set of modules already excluded from consideration (already
// executed, canceled, or elsewhere in the current resolution chain).
func (d *Dispatcher) NextModule(typesAvailable map[string]bool, target string, excluded map[string]bool) (string, error) {
	info, ok := d.catalog.Get(target)
	if !ok {
		return "", fmt.Errorf("dispatcher: unknown module %q: %w", target, ErrNoPath)
	}

	if len(info.ActsOn) == 0 {
		return target, nil
	}
	for _, t := range info.ActsOn {
		if typesAvailable[t] {
			return target, nil
		}
	}

	chainExcluded := withModule(excluded, target)

	var best pathCandidate
	found := false
	for _, destType := range info.ActsOn {
		cand, ok := d.shortestPathToType(destType, typesAvailable, chainExcluded, map[string]bool{})
		if !ok {
			continue
		}
		if !found || better(cand, best) {
			best = cand
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("dispatcher: no path to enable %q: %w", target, ErrNoPath)
	}
	return best.module, nil
}

// shortestPathToType performs the depth-first walk over the transform
// graph: excludedModules forbids revisiting a module, excludedTypes
// forbids revisiting a source type along the current DFS chain. A
// regular transform of path length 1 short-circuits the search
// immediately, since nothing can ever outrank it.
func (d *Dispatcher) shortestPathToType(destType string, typesAvailable, excludedModules, excludedTypes map[string]bool) (pathCandidate, bool) {
	candidates := d.catalog.ModulesGenerating(destType)

	for _, m := range candidates {
		if excludedModules[m.Name] {
			continue
		}
		if len(m.ActsOn) == 0 {
			continue // direct transforms are considered in the second pass below
		}
		for _, src := range m.ActsOn {
			if typesAvailable[src] {
				return pathCandidate{module: m.Name, length: 1, direct: false}, true
			}
		}
	}

	var best pathCandidate
	found := false

	for _, m := range candidates {
		if excludedModules[m.Name] {
			continue
		}
		if len(m.ActsOn) == 0 {
			cand := pathCandidate{module: m.Name, length: 1, direct: true}
			if !found || better(cand, best) {
				best, found = cand, true
			}
			continue
		}
		for _, src := range m.ActsOn {
			if typesAvailable[src] || excludedTypes[src] {
				continue
			}
			sub, ok := d.shortestPathToType(src, typesAvailable, withModule(excludedModules, m.Name), withType(excludedTypes, destType))
			if !ok {
				continue
			}
			cand := pathCandidate{module: m.Name, length: sub.length + 1, direct: false}
			if !found || better(cand, best) {
				best, found = cand, true
			}
		}
	}

	return best, found
}

// NextPreloadingModule returns the first candidate not already excluded,
// simple first-match with no path search.
func (d *Dispatcher) NextPreloadingModule(candidates []string, excluded map[string]bool) (string, error) {
	for _, c := range candidates {
		if !excluded[c] {
			return c, nil
		}
	}
	return "", fmt.Errorf("preloading: no candidate left: %w", ErrNoPath)
}

func withModule(set map[string]bool, name string) map[string]bool {
	out := make(map[string]bool, len(set)+1)
	for k := range set {
		out[k] = true
	}
	out[name] = true
	return out
}

func withType(set map[string]bool, t string) map[string]bool {
	out := make(map[string]bool, len(set)+1)
	for k := range set {
		out[k] = true
	}
	out[t] = true
	return out
}

// Package catalog implements the ModuleCatalog: the set of enabled
// modules, indexed by type, by transform (source type -> generated
// type), and by tag trigger (literal or fnmatch-wildcard).
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fame/core/internal/module"
	"github.com/fame/core/internal/store"
)

// Transform describes one module able to produce GeneratedType.
type Transform struct {
	GeneratedType string
	Module        string
}

// OptionInfo describes one per-analysis runtime option, unioned across
// every enabled module that declares it).
type OptionInfo struct {
	Default     any
	Description string
	Modules     []string
}

type triggerEntry struct {
	pattern  string
	module   string
	wildcard bool
}

// Catalog is the in-process module registry, rebuilt from the Store
// whenever Load is called (on startup, on an updates.last_update event,
// or on explicit reload -- Invalidation).
type Catalog struct {
	mu sync.RWMutex

	modules map[string]module.Info
	byType  map[module.Type][]string // insertion order per type

	// transformsBySource maps a source file type to every module able to
	// transform it, in registration order.
	transformsBySource map[string][]Transform

	// directTransforms maps a generated file type to every module with an
	// empty ActsOn able to produce it ("direct transform" candidates).
	directTransforms map[string][]string

	generalPurpose []string
	triggers       []triggerEntry
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{
		modules:            make(map[string]module.Info),
		byType:             make(map[module.Type][]string),
		transformsBySource: make(map[string][]Transform),
		directTransforms:   make(map[string][]string),
	}
}

// Load rebuilds the catalog from every enabled, config-complete module in
// the Store's "modules" collection. Disabled or incomplete modules are
// skipped entirely, treated as not in the catalog at queue time.
func (c *Catalog) Load(s store.Store) error {
	ids, err := s.List(store.CollectionModules)
	if err != nil {
		return fmt.Errorf("catalog: list modules: %w", err)
	}

	sort.Strings(ids) // deterministic base order; registration order below follows this.

	fresh := New()
	for _, id := range ids {
		var info module.Info
		ok, err := s.Get(store.CollectionModules, id, &info)
		if err != nil {
			return fmt.Errorf("catalog: load module %s: %w", id, err)
		}
		if !ok || !info.Enabled || !info.Complete() {
			continue
		}
		fresh.register(info)
	}

	c.mu.Lock()
	*c = *fresh
	c.mu.Unlock()
	return nil
}

// register indexes one enabled module the way describes.
func (c *Catalog) register(info module.Info) {
	c.modules[info.Name] = info
	c.byType[info.Type] = append(c.byType[info.Type], info.Name)

	if info.Type != module.TypeProcessing {
		return
	}

	// Potential transform: keyed on each source type.
	for _, src := range info.ActsOn {
		for _, gen := range info.Generates {
			c.transformsBySource[src] = append(c.transformsBySource[src], Transform{GeneratedType: gen, Module: info.Name})
		}
	}

	// Direct transform: empty ActsOn, keyed on generated types.
	if len(info.ActsOn) == 0 {
		for _, gen := range info.Generates {
			c.directTransforms[gen] = append(c.directTransforms[gen], info.Name)
		}
	}

	if len(info.TriggeredBy) == 0 {
		c.generalPurpose = append(c.generalPurpose, info.Name)
		for _, t := range info.ActsOn {
			c.triggers = append(c.triggers, triggerEntry{
				pattern: generatedFileTag(t),
				module:  info.Name,
			})
		}
		return
	}

	for _, pattern := range info.TriggeredBy {
		c.triggers = append(c.triggers, triggerEntry{
			pattern:  pattern,
			module:   info.Name,
			wildcard: hasWildcard(pattern),
		})
	}
}

// generatedFileTag is the synthetic trigger tag emitted when a module
// adds a new generated file of type t.
func generatedFileTag(t string) string {
	return fmt.Sprintf("_generated_file(%s)", t)
}

// GeneratedFileTag exposes the synthetic tag format for analysis.Analysis.
func GeneratedFileTag(t string) string { return generatedFileTag(t) }

// Get returns the module by name, if present and enabled.
func (c *Catalog) Get(name string) (module.Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[name]
	return m, ok
}

func (c *Catalog) byTypeList(t module.Type) []module.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := c.byType[t]
	out := make([]module.Info, 0, len(names))
	for _, n := range names {
		out = append(out, c.modules[n])
	}
	return out
}

// All returns every loaded module, sorted by name, for listing surfaces
// such as GET /modules/.
func (c *Catalog) All() []module.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]module.Info, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) Processing() []module.Info         { return c.byTypeList(module.TypeProcessing) }
func (c *Catalog) Preloading() []module.Info         { return c.byTypeList(module.TypePreloading) }
func (c *Catalog) Reporting() []module.Info          { return c.byTypeList(module.TypeReporting) }
func (c *Catalog) ThreatIntelligence() []module.Info { return c.byTypeList(module.TypeThreatIntelligence) }
func (c *Catalog) Antivirus() []module.Info          { return c.byTypeList(module.TypeAntivirus) }
func (c *Catalog) Virtualization() []module.Info     { return c.byTypeList(module.TypeVirtualization) }

// FiletypeFor returns Filetype modules declaring acts_on including t.
func (c *Catalog) FiletypeFor(t string) []module.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []module.Info
	for _, name := range c.byType[module.TypeFiletype] {
		info := c.modules[name]
		for _, at := range info.ActsOn {
			if at == t {
				out = append(out, info)
				break
			}
		}
	}
	return out
}

// TriggeredBy returns the names of modules whose triggered_by patterns
// match tag, in registration order.
func (c *Catalog) TriggeredBy(tag string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for _, t := range c.triggers {
		if t.wildcard {
			if globMatch(t.pattern, tag) {
				out = append(out, t.module)
			}
		} else if t.pattern == tag {
			out = append(out, t.module)
		}
	}
	return out
}

// GeneralPurpose returns every module with no declared triggers, in
// registration order.
func (c *Catalog) GeneralPurpose() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.generalPurpose))
	copy(out, c.generalPurpose)
	return out
}

// TransformsForSource returns every {generatedType, module} transform
// registered for a given source file type, in registration order.
func (c *Catalog) TransformsForSource(sourceType string) []Transform {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Transform, len(c.transformsBySource[sourceType]))
	copy(out, c.transformsBySource[sourceType])
	return out
}

// DirectTransforms returns the names of direct-transform modules
// (empty ActsOn) able to produce generatedType, in registration order.
func (c *Catalog) DirectTransforms(generatedType string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.directTransforms[generatedType]))
	copy(out, c.directTransforms[generatedType])
	return out
}

// ModulesGenerating returns every Processing module (direct or regular)
// able to produce generatedType, in registration order. The dispatcher
// uses this as the candidate set for its shortest-path search.
func (c *Catalog) ModulesGenerating(generatedType string) []module.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []module.Info
	for _, name := range c.byType[module.TypeProcessing] {
		info := c.modules[name]
		for _, g := range info.Generates {
			if g == generatedType {
				out = append(out, info)
				break
			}
		}
	}
	return out
}

// Options returns the union of every enabled module's option=true
// settings, grouped by declared type).
func (c *Catalog) Options() map[module.ConfigValueType]map[string]OptionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[module.ConfigValueType]map[string]OptionInfo)
	names := make([]string, 0, len(c.modules))
	for n := range c.modules {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		info := c.modules[name]
		for _, item := range info.Config {
			if !item.Option {
				continue
			}
			byName, ok := out[item.Type]
			if !ok {
				byName = make(map[string]OptionInfo)
				out[item.Type] = byName
			}
			entry, ok := byName[item.Name]
			if !ok {
				entry = OptionInfo{Default: item.Default, Description: item.Description}
			}
			entry.Modules = append(entry.Modules, name)
			byName[item.Name] = entry
		}
	}
	return out
}

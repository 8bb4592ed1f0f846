// Package module defines the ModuleInfo metadata record shared by every
// analysis module type in the catalog, plus the small per-type capability
// sets layered on top of it (Processing, Preloading, Reporting, ...).
package module

// Type is the module category. Each type adds its own capability set on
// top of the shared Info record (see the Processing/Preloading/... structs
// below and internal/collab.Host for how a concrete module is loaded).
type Type string

const (
	TypeProcessing          Type = "Processing"
	TypePreloading          Type = "Preloading"
	TypeReporting            Type = "Reporting"
	TypeThreatIntelligence   Type = "ThreatIntelligence"
	TypeAntivirus            Type = "Antivirus"
	TypeFiletype             Type = "Filetype"
	TypeVirtualization       Type = "Virtualization"
)

// ConfigValueType is the declared type of a single configuration setting.
type ConfigValueType string

const (
	ConfigStr     ConfigValueType = "str"
	ConfigText    ConfigValueType = "text"
	ConfigInteger ConfigValueType = "integer"
	ConfigBool    ConfigValueType = "bool"
)

// ConfigItem is one declared configuration setting for a module.
type ConfigItem struct {
	Name        string          `json:"name" yaml:"name"`
	Type        ConfigValueType `json:"type" yaml:"type"`
	Default     any             `json:"default,omitempty" yaml:"default,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	// Option marks this setting as a per-analysis runtime option (exposed
	// through ModuleCatalog.Options()) rather than a deployment-time setting.
	Option bool `json:"option,omitempty" yaml:"option,omitempty"`
}

// HasValue reports whether the item resolves to a concrete value given a
// map of explicitly-set values (from a named config or per-module diffs).
func (c ConfigItem) HasValue(set map[string]any) bool {
	if _, ok := set[c.Name]; ok {
		return true
	}
	return c.Default != nil
}

// Info is the metadata record shared by every module, regardless of type.
// It is the document stored in the Store's "modules" collection.
type Info struct {
	Name    string `json:"name" yaml:"name"`
	Class   string `json:"class" yaml:"class"` // dotted/loader path, resolved via collab.Host
	Type    Type   `json:"type" yaml:"type"`

	// ActsOn is the ordered list of file types this module can consume.
	// Empty means "any" (a "direct transform" candidate, see dispatcher).
	ActsOn []string `json:"acts_on,omitempty" yaml:"acts_on,omitempty"`

	// Generates is the ordered list of file types this module can produce.
	Generates []string `json:"generates,omitempty" yaml:"generates,omitempty"`

	// TriggeredBy is the ordered list of fnmatch-style tag patterns that
	// enqueue this module when a matching tag is appended to an analysis.
	TriggeredBy []string `json:"triggered_by,omitempty" yaml:"triggered_by,omitempty"`

	// Queue is the named queue this module's tasks are published to.
	Queue string `json:"queue,omitempty" yaml:"queue,omitempty"`

	Config []ConfigItem `json:"config,omitempty" yaml:"config,omitempty"`

	Enabled bool `json:"enabled" yaml:"enabled"`

	// Diffs holds per-deployment configuration overrides: explicit values
	// for named ConfigItems, keyed by config item name.
	Diffs map[string]any `json:"diffs,omitempty" yaml:"diffs,omitempty"`

	// VM declares the disposable-VM execution parameters for a module that
	// runs inside IsolatedRunner. Nil for modules that run
	// directly in the worker process.
	VM *VMOptions `json:"vm,omitempty" yaml:"vm,omitempty"`
}

// VMOptions is a module's declared isolation parameters: one or more
// parallel (label, ip_address, port) triples the runner may acquire a
// lock against, plus the driver name and restore policy.
type VMOptions struct {
	Driver    string   `json:"driver" yaml:"driver"`
	Labels    []string `json:"labels" yaml:"labels"`
	Addresses []string `json:"addresses" yaml:"addresses"`
	Ports     []string `json:"ports" yaml:"ports"`

	// AlwaysReady keeps the VM running between executions; it is only
	// snapshot-restored once RestoreAfter executions have elapsed or a
	// module explicitly requests restoration. When false, the VM is
	// stopped after every execution.
	AlwaysReady  bool `json:"always_ready" yaml:"always_ready"`
	RestoreAfter int  `json:"restore_after" yaml:"restore_after"`
}

// DefaultQueue returns the module's queue, or "unix" if unset.
func (i Info) DefaultQueue() string {
	if i.Queue == "" {
		return "unix"
	}
	return i.Queue
}

// GeneralPurpose reports whether the module runs in the default pass
// (no declared triggers).
func (i Info) GeneralPurpose() bool {
	return len(i.TriggeredBy) == 0
}

// DirectTransform reports whether the module can run on any input type
// (empty ActsOn) and produces at least one output type.
func (i Info) DirectTransform() bool {
	return len(i.ActsOn) == 0 && len(i.Generates) > 0
}

// ResolvedConfig merges declared defaults with the module's deployment
// diffs, returning the concrete per-setting values. A setting with neither
// a diff value nor a default is omitted.
func (i Info) ResolvedConfig() map[string]any {
	out := make(map[string]any, len(i.Config))
	for _, item := range i.Config {
		if v, ok := i.Diffs[item.Name]; ok {
			out[item.Name] = v
			continue
		}
		if item.Default != nil {
			out[item.Name] = item.Default
		}
	}
	return out
}

// Complete reports whether every declared configuration setting resolves
// to a value: enabled implies every setting has a value or a default.
// When false, the catalog must treat the module as disabled regardless
// of the stored Enabled flag.
func (i Info) Complete() bool {
	resolved := i.ResolvedConfig()
	for _, item := range i.Config {
		if _, ok := resolved[item.Name]; !ok {
			return false
		}
	}
	return true
}

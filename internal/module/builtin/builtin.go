// Package builtin registers the small set of test/demo analysis modules
// that stand in for real collaborator-supplied modules. They give collab.LocalModuleHost
// something real to load so cmd/fame's "serve"/"worker" commands and the
// end-to-end tests exercise the full pipeline without a real FAME module
// repository.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/fame/core/internal/collab"
)

// Register installs every builtin module factory into host under its
// dotted class path, matching the names a "modules" collection document
// would declare in its "class" field.
func Register(host *collab.LocalModuleHost) {
	host.Register("builtin.patternmatch", func() collab.Module { return &patternMatchModule{} })
	host.Register("builtin.tagger", func() collab.Module { return &taggerModule{} })
	host.Register("builtin.noop", func() collab.Module { return &noopModule{} })
}

// patternMatchModule raises a verdict when its configured "needle" string
// appears in its configured "haystack" string. Standing in for content
// inspection modules (string/YARA scanners) whose real logic is a
// collaborator concern.
type patternMatchModule struct {
	needle   string
	haystack string
}

func (m *patternMatchModule) Initialize(config map[string]any) error {
	m.needle, _ = config["needle"].(string)
	m.haystack, _ = config["haystack"].(string)
	if m.needle == "" {
		return fmt.Errorf("builtin.patternmatch: needle not configured")
	}
	return nil
}

func (m *patternMatchModule) Execute(ctx context.Context) (bool, any, []string, error) {
	if strings.Contains(m.haystack, m.needle) {
		return true, map[string]any{"matched": m.needle}, []string{"matched:" + m.needle}, nil
	}
	return false, nil, nil, nil
}

// taggerModule unconditionally appends its configured tags, useful for
// exercising the tag-triggered dispatch path in tests
// and local runs.
type taggerModule struct {
	tags []string
}

func (m *taggerModule) Initialize(config map[string]any) error {
	if v, ok := config["tags"].([]string); ok {
		m.tags = v
		return nil
	}
	if v, ok := config["tags"].([]any); ok {
		for _, t := range v {
			if s, ok := t.(string); ok {
				m.tags = append(m.tags, s)
			}
		}
	}
	return nil
}

func (m *taggerModule) Execute(ctx context.Context) (bool, any, []string, error) {
	if len(m.tags) == 0 {
		return false, nil, nil, nil
	}
	return true, nil, m.tags, nil
}

// noopModule always returns a clean verdict; used by tests and smoke
// deployments that only care about task routing, not module semantics.
type noopModule struct{}

func (m *noopModule) Initialize(config map[string]any) error { return nil }

func (m *noopModule) Execute(ctx context.Context) (bool, any, []string, error) {
	return false, nil, nil, nil
}

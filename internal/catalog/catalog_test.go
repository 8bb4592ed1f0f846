package catalog

import (
	"testing"

	"github.com/fame/core/internal/module"
	"github.com/fame/core/internal/store"
)

func newLoadedCatalog(t *testing.T, modules ...module.Info) *Catalog {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, m := range modules {
		if err := s.Put(store.CollectionModules, m.Name, m); err != nil {
			t.Fatalf("Put(%s): %v", m.Name, err)
		}
	}
	c := New()
	if err := c.Load(s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestRegisterDirectTransform(t *testing.T) {
	c := newLoadedCatalog(t, module.Info{
		Name:      "unarchive",
		Type:      module.TypeProcessing,
		Generates: []string{"extracted_file"},
		Enabled:   true,
	})

	names := c.DirectTransforms("extracted_file")
	if len(names) != 1 || names[0] != "unarchive" {
		t.Fatalf("expected [unarchive], got %v", names)
	}
	if got := c.GeneralPurpose(); len(got) != 1 || got[0] != "unarchive" {
		t.Fatalf("direct transform with no triggers should be general purpose, got %v", got)
	}
}

func TestRegisterTransformBySource(t *testing.T) {
	c := newLoadedCatalog(t, module.Info{
		Name:      "pe_strings",
		Type:      module.TypeProcessing,
		ActsOn:    []string{"executable"},
		Generates: []string{"strings"},
		Enabled:   true,
	})

	transforms := c.TransformsForSource("executable")
	if len(transforms) != 1 || transforms[0].Module != "pe_strings" || transforms[0].GeneratedType != "strings" {
		t.Fatalf("unexpected transforms: %v", transforms)
	}
}

func TestGeneralPurposeGetsSyntheticTrigger(t *testing.T) {
	c := newLoadedCatalog(t, module.Info{
		Name:      "peinfo",
		Type:      module.TypeProcessing,
		ActsOn:    []string{"executable"},
		Generates: []string{"peinfo_json"},
		Enabled:   true,
	})

	names := c.TriggeredBy(GeneratedFileTag("executable"))
	if len(names) != 1 || names[0] != "peinfo" {
		t.Fatalf("expected peinfo triggered by synthetic generated_file tag, got %v", names)
	}
}

func TestTriggeredByLiteralAndWildcard(t *testing.T) {
	c := newLoadedCatalog(t,
		module.Info{
			Name:        "yara_scan",
			Type:        module.TypeProcessing,
			TriggeredBy: []string{"ransomware"},
			Enabled:     true,
		},
		module.Info{
			Name:        "family_lookup",
			Type:        module.TypeProcessing,
			TriggeredBy: []string{"family:*"},
			Enabled:     true,
		},
	)

	if got := c.TriggeredBy("ransomware"); len(got) != 1 || got[0] != "yara_scan" {
		t.Fatalf("literal trigger mismatch: %v", got)
	}
	if got := c.TriggeredBy("family:emotet"); len(got) != 1 || got[0] != "family_lookup" {
		t.Fatalf("wildcard trigger mismatch: %v", got)
	}
	if got := c.TriggeredBy("family:emotet"); len(got) == 1 {
		if _, ok := c.Get("family_lookup"); !ok {
			t.Fatal("expected family_lookup in catalog")
		}
	}
}

func TestDisabledModuleExcluded(t *testing.T) {
	c := newLoadedCatalog(t, module.Info{
		Name:    "disabled_mod",
		Type:    module.TypeProcessing,
		Enabled: false,
	})
	if _, ok := c.Get("disabled_mod"); ok {
		t.Fatal("disabled module must not be registered")
	}
}

func TestIncompleteConfigExcluded(t *testing.T) {
	c := newLoadedCatalog(t, module.Info{
		Name:    "needs_key",
		Type:    module.TypeProcessing,
		Enabled: true,
		Config: []module.ConfigItem{
			{Name: "api_key", Type: module.ConfigStr},
		},
	})
	if _, ok := c.Get("needs_key"); ok {
		t.Fatal("module with an unresolved required setting must not be registered")
	}
}

func TestOptionsUnion(t *testing.T) {
	c := newLoadedCatalog(t,
		module.Info{
			Name:    "scanner_a",
			Type:    module.TypeProcessing,
			Enabled: true,
			Config: []module.ConfigItem{
				{Name: "deep_scan", Type: module.ConfigBool, Default: false, Option: true},
			},
		},
		module.Info{
			Name:    "scanner_b",
			Type:    module.TypeProcessing,
			Enabled: true,
			Config: []module.ConfigItem{
				{Name: "deep_scan", Type: module.ConfigBool, Default: false, Option: true},
			},
		},
	)

	opts := c.Options()
	byName, ok := opts[module.ConfigBool]
	if !ok {
		t.Fatal("expected bool options group")
	}
	entry, ok := byName["deep_scan"]
	if !ok {
		t.Fatal("expected deep_scan option")
	}
	if len(entry.Modules) != 2 {
		t.Fatalf("expected deep_scan declared by 2 modules, got %v", entry.Modules)
	}
}

func TestFiletypeFor(t *testing.T) {
	c := newLoadedCatalog(t, module.Info{
		Name:    "office_magic",
		Type:    module.TypeFiletype,
		ActsOn:  []string{"unknown"},
		Enabled: true,
	})

	got := c.FiletypeFor("unknown")
	if len(got) != 1 || got[0].Name != "office_magic" {
		t.Fatalf("expected office_magic, got %v", got)
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fame/core/internal/catalog"
	"github.com/fame/core/internal/module"
	"github.com/fame/core/internal/store"
)

func modulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List or register modules in the catalog",
		RunE:  runModules,
	}
	cmd.AddCommand(modulesRegisterCmd())
	return cmd
}

// modulesRegisterCmd loads a module.yaml manifest and stores it in the
// modules collection, the CLI-driven analogue of the repository-fetch
// worker installing a new module.
func modulesRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <manifest.yaml>",
		Short: "Register a module from its module.yaml manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  runModulesRegister,
	}
}

func runModulesRegister(cmd *cobra.Command, args []string) error {
	info, err := module.LoadManifest(args[0])
	if err != nil {
		return err
	}
	if info.Name == "" {
		return fmt.Errorf("manifest %s has no name", args[0])
	}
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	if err := s.Put(store.CollectionModules, info.Name, info); err != nil {
		return fmt.Errorf("register module %s: %w", info.Name, err)
	}
	fmt.Printf("%s module %q registered (class %s)\n", green("✓"), info.Name, info.Class)
	return nil
}

func runModules(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	c := catalog.New()
	if err := c.Load(s); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	mods := c.All()
	if len(mods) == 0 {
		fmt.Println("No modules in the catalog.")
		return nil
	}

	fmt.Printf("%s%s\n\n", bold("Modules"), cyan(fmt.Sprintf(" (%d)", len(mods))))
	fmt.Printf("  %-24s %-20s %-8s %s\n", "NAME", "TYPE", "ENABLED", "ACTS ON")
	fmt.Printf("  %-24s %-20s %-8s %s\n", strings.Repeat("-", 24), strings.Repeat("-", 20), strings.Repeat("-", 7), strings.Repeat("-", 10))
	for _, m := range mods {
		enabled := "no"
		color := red
		if m.Enabled && m.Complete() {
			enabled, color = "yes", green
		}
		fmt.Printf("  %-24s %-20s %-8s %s\n", m.Name, m.Type, color(enabled), strings.Join(m.ActsOn, ","))
	}
	return nil
}

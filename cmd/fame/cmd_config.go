package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fame/core/internal/fameconfig"
	"github.com/fame/core/internal/store"
)

func configCmdGroup() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View deployment settings and named configs",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configSetCmd())
	return cmd
}

// configShowCmd prints the resolved ambient Settings (env + flags + file),
// matching deployment-wide settings.
func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show resolved deployment settings",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n\n", bold("Deployment settings"))
	fmt.Printf("  storage_path      %s\n", settings.StoragePath)
	fmt.Printf("  temp_path         %s\n", settings.TempPath)
	fmt.Printf("  listen_addr       %s\n", settings.ListenAddr)
	fmt.Printf("  default_queue     %s\n", settings.DefaultQueue)
	fmt.Printf("  cleanup_interval  %s\n", settings.CleanupInterval)
	fmt.Printf("  scratch_max_age   %s\n", settings.ScratchMaxAge)
	fmt.Printf("  refresh_interval  %s\n", settings.RefreshInterval)
	return nil
}

// configGetCmd/configSetCmd operate on named configs, stored in the document
// store's settings collection rather than in the ambient Settings struct.
func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print a named config (e.g. smtp, virustotal) as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigGet,
	}
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	values, err := fameconfig.NamedConfig(s, args[0])
	if err != nil {
		return err
	}
	if values == nil {
		return fmt.Errorf("no named config %q", args[0])
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(values)
}

func configSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name> <key=value>...",
		Short: "Set one or more values in a named config",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runConfigSet,
	}
	return cmd
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	name := args[0]
	values, err := fameconfig.NamedConfig(s, name)
	if err != nil {
		return err
	}
	if values == nil {
		values = map[string]any{}
	}
	for _, kv := range args[1:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid key=value pair: %q", kv)
		}
		values[parts[0]] = parts[1]
	}
	if err := fameconfig.PutNamedConfig(s, name, values); err != nil {
		return err
	}
	fmt.Printf("%s named config %q updated\n", green("✓"), name)
	return nil
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	s, err := store.NewFileStore(filepath.Join(settings.StoragePath, ".store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

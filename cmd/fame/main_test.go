package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func TestCLIHelpExitsClean(t *testing.T) {
	root := &cobra.Command{Use: "fame", Version: version}
	root.PersistentFlags().String("config", "", "")
	root.AddCommand(serveCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(modulesCmd())
	root.AddCommand(analysesCmd())
	root.AddCommand(configCmdGroup())

	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("--help should not error: %v", err)
	}
}

func TestModulesCommandOnEmptyStore(t *testing.T) {
	dir := t.TempDir()
	withConfigEnv(t, dir)

	cmd := modulesCmd()
	cmd.PersistentFlags().String("config", "", "")
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("modules command failed: %v", err)
	}
}

func TestConfigShowCommand(t *testing.T) {
	dir := t.TempDir()
	withConfigEnv(t, dir)

	cmd := configShowCmd()
	cmd.PersistentFlags().String("config", "", "")
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
}

func TestConfigSetAndGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	withConfigEnv(t, dir)

	setCmd := configSetCmd()
	setCmd.PersistentFlags().String("config", "", "")
	setCmd.SetArgs([]string{"smtp", "host=mail.example.com"})
	if err := setCmd.Execute(); err != nil {
		t.Fatalf("config set failed: %v", err)
	}

	getCmd := configGetCmd()
	getCmd.PersistentFlags().String("config", "", "")
	getCmd.SetArgs([]string{"smtp"})
	if err := getCmd.Execute(); err != nil {
		t.Fatalf("config get failed: %v", err)
	}
}

func TestModulesRegisterAndList(t *testing.T) {
	dir := t.TempDir()
	withConfigEnv(t, dir)

	manifestPath := filepath.Join(dir, "module.yaml")
	manifest := []byte("name: demo\nclass: builtin.noop\ntype: Processing\nenabled: true\n")
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	registerCmd := modulesRegisterCmd()
	registerCmd.PersistentFlags().String("config", "", "")
	registerCmd.SetArgs([]string{manifestPath})
	if err := registerCmd.Execute(); err != nil {
		t.Fatalf("modules register failed: %v", err)
	}

	listCmd := modulesCmd()
	listCmd.PersistentFlags().String("config", "", "")
	listCmd.SetArgs(nil)
	if err := listCmd.Execute(); err != nil {
		t.Fatalf("modules list failed: %v", err)
	}
}

// withConfigEnv points FAME_STORAGE_PATH at a fresh temp dir for the
// duration of the test, the way viper's env binding resolves storage_path.
func withConfigEnv(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("FAME_STORAGE_PATH", filepath.Join(dir, "storage"))
	t.Setenv("FAME_TEMP_PATH", filepath.Join(dir, "tmp"))
	if err := os.MkdirAll(filepath.Join(dir, "storage"), 0o755); err != nil {
		t.Fatalf("mkdir storage: %v", err)
	}
}

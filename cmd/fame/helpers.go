package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fame/core/internal/fameconfig"
)

// httpShutdownGrace bounds how long "serve" waits for in-flight requests
// to finish before forcing a shutdown on signal.
const httpShutdownGrace = 10 * time.Second

var (
	bold  = color.New(color.Bold).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

// loadSettings builds a viper instance honoring --config (when set) on top
// of fameconfig's defaults/env binding/fame.yaml search, then resolves it.
// --config is a persistent flag, merged into cmd.Flags() by cobra before
// RunE runs.
func loadSettings(cmd *cobra.Command) (fameconfig.Settings, error) {
	v := fameconfig.NewViper()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fameconfig.Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fameconfig.Load(v)
}

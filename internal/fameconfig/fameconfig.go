// Package fameconfig implements the ambient configuration layer: deployment
// settings resolved from environment, flags, and an optional config file
// via github.com/spf13/viper, plus named-config resolution (a settings
// document shared by several modules, e.g. "smtp", "virustotal") backed by
// the Store's settings collection.
package fameconfig

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/fame/core/internal/store"
)

// Settings is the resolved set of deployment-wide options.
type Settings struct {
	StoragePath     string
	TempPath        string
	ListenAddr      string
	DefaultQueue    string
	CleanupInterval time.Duration
	ScratchMaxAge   time.Duration
	RefreshInterval time.Duration
}

// NewViper builds a viper instance with FAME's defaults and env binding
// (prefix FAME_, e.g. FAME_STORAGE_PATH) for resolving deployment
// settings.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("fame")
	v.AutomaticEnv()

	v.SetDefault("storage_path", "./data/storage")
	v.SetDefault("temp_path", "./data/tmp")
	v.SetDefault("listen_addr", ":4200")
	v.SetDefault("default_queue", defaultQueueName())
	v.SetDefault("cleanup_interval", "1h")
	v.SetDefault("scratch_max_age", "168h") // 7 days
	v.SetDefault("refresh_interval", "30s")

	v.SetConfigName("fame")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fame")
	_ = v.ReadInConfig() // a missing config file is not an error; env + defaults stand

	return v
}

// defaultQueueName mirrors "windows" on that platform,
// otherwise "unix".
func defaultQueueName() string {
	if runtime.GOOS == "windows" {
		return "windows"
	}
	return "unix"
}

// Load resolves Settings from v.
func Load(v *viper.Viper) (Settings, error) {
	cleanupInterval, err := time.ParseDuration(v.GetString("cleanup_interval"))
	if err != nil {
		return Settings{}, fmt.Errorf("fameconfig: cleanup_interval: %w", err)
	}
	scratchMaxAge, err := time.ParseDuration(v.GetString("scratch_max_age"))
	if err != nil {
		return Settings{}, fmt.Errorf("fameconfig: scratch_max_age: %w", err)
	}
	refreshInterval, err := time.ParseDuration(v.GetString("refresh_interval"))
	if err != nil {
		return Settings{}, fmt.Errorf("fameconfig: refresh_interval: %w", err)
	}

	return Settings{
		StoragePath:     v.GetString("storage_path"),
		TempPath:        v.GetString("temp_path"),
		ListenAddr:      v.GetString("listen_addr"),
		DefaultQueue:    v.GetString("default_queue"),
		CleanupInterval: cleanupInterval,
		ScratchMaxAge:   scratchMaxAge,
		RefreshInterval: refreshInterval,
	}, nil
}

// NamedConfig loads a shared configuration group from the Store's
// "settings" collection. Returns (nil, nil) if absent.
func NamedConfig(s store.Store, name string) (map[string]any, error) {
	var doc map[string]any
	ok, err := s.Get(store.CollectionSettings, name, &doc)
	if err != nil {
		return nil, fmt.Errorf("fameconfig: load named config %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	return doc, nil
}

// PutNamedConfig writes or replaces a named configuration group.
func PutNamedConfig(s store.Store, name string, values map[string]any) error {
	if err := s.Put(store.CollectionSettings, name, values); err != nil {
		return fmt.Errorf("fameconfig: save named config %s: %w", name, err)
	}
	return nil
}

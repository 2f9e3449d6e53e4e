package features

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Flag is one runtime switch
type Flag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	FlagScheduledRefresh = "scheduled_refresh"
	FlagLegacyImport     = "legacy_import"
	FlagLiveUpdates      = "live_updates"
	FlagAPIRateLimiting  = "api_rate_limiting"
)

// Flag sources, lowest precedence first
const (
	SourceDefault = "default"
	SourceConfig  = "config"
	SourceEnv     = "env"
)

const envPrefix = "SOCIALHUB_FEATURE_"

type definition struct {
	name        string
	description string
	enabled     bool
}

var definitions = []definition{
	{FlagScheduledRefresh, "Run the gated background token refresh", true},
	{FlagLegacyImport, "Import a legacy flat credential file at startup", true},
	{FlagLiveUpdates, "Serve websocket live updates at /ws", true},
	{FlagAPIRateLimiting, "Apply the per-IP rate limit to /api routes", true},
}

// ErrUnknownFlag is returned for names outside the defined set
type ErrUnknownFlag struct {
	Name string
}

func (e ErrUnknownFlag) Error() string {
	return fmt.Sprintf("unknown feature flag: %s", e.Name)
}

// FlagManager holds the flag set. Reads are safe for concurrent use.
type FlagManager struct {
	mu    sync.RWMutex
	flags map[string]*Flag
	now   func() time.Time
}

// NewFlagManager returns a manager holding every flag at its default
func NewFlagManager() *FlagManager {
	fm := &FlagManager{flags: make(map[string]*Flag, len(definitions)), now: time.Now}
	now := fm.now()
	for _, def := range definitions {
		fm.flags[def.name] = &Flag{
			Name:        def.name,
			Enabled:     def.enabled,
			Description: def.description,
			Source:      SourceDefault,
			UpdatedAt:   now,
		}
	}
	return fm
}

// IsEnabled reports the flag state. Unknown flags are disabled. A nil
// manager answers with the defaults.
func (fm *FlagManager) IsEnabled(name string) bool {
	if fm == nil {
		for _, def := range definitions {
			if def.name == name {
				return def.enabled
			}
		}
		return false
	}
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	flag, ok := fm.flags[name]
	return ok && flag.Enabled
}

func (fm *FlagManager) Enable(name string) error  { return fm.set(name, true, SourceConfig) }
func (fm *FlagManager) Disable(name string) error { return fm.set(name, false, SourceConfig) }

func (fm *FlagManager) set(name string, enabled bool, source string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	flag, ok := fm.flags[name]
	if !ok {
		return ErrUnknownFlag{Name: name}
	}
	flag.Enabled = enabled
	flag.Source = source
	flag.UpdatedAt = fm.now()
	return nil
}

// LoadFromConfig applies the "features" section of the config file.
// Unknown names are rejected so typos surface at startup.
func (fm *FlagManager) LoadFromConfig(values map[string]bool) error {
	for name, enabled := range values {
		if err := fm.set(strings.ToLower(name), enabled, SourceConfig); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromEnvironment applies SOCIALHUB_FEATURE_<NAME>=true|false overrides.
// It returns the names it could not apply.
func (fm *FlagManager) LoadFromEnvironment() []string {
	var ignored []string
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			ignored = append(ignored, key)
			continue
		}
		if err := fm.set(name, enabled, SourceEnv); err != nil {
			ignored = append(ignored, key)
		}
	}
	sort.Strings(ignored)
	return ignored
}

// List returns a copy of every flag sorted by name
func (fm *FlagManager) List() []Flag {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	out := make([]Flag, 0, len(fm.flags))
	for _, flag := range fm.flags {
		out = append(out, *flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	docconfig "github.com/alexisbeaulieu97/pipez/internal/config"
	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/runtime"
	"github.com/alexisbeaulieu97/pipez/internal/store"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// EnvPrefix marks environment variables read as settings. PIPEZ_STORE_KIND
// sets store.kind.
const EnvPrefix = "PIPEZ_"

// Settings is the runtime configuration of the pipez binary.
type Settings struct {
	Log       LogSettings       `koanf:"log"`
	Transport TransportSettings `koanf:"transport"`
	Engine    EngineSettings    `koanf:"engine"`
	Store     StoreSettings     `koanf:"store"`
	Monitor   MonitorSettings   `koanf:"monitor"`
}

type LogSettings struct {
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`
}

type TransportSettings struct {
	// Location is the channelLocation of ports that set none.
	Location string `koanf:"location" validate:"required"`
	// Capacity bounds every memory channel.
	Capacity int `koanf:"capacity" validate:"gte=1"`
}

type EngineSettings struct {
	MaxInitAttempts     int           `koanf:"maxInitAttempts" validate:"gte=1"`
	MaxShutdownAttempts int           `koanf:"maxShutdownAttempts" validate:"gte=1"`
	Idle                time.Duration `koanf:"idle" validate:"gt=0"`
	DrainTimeout        time.Duration `koanf:"drainTimeout" validate:"gt=0"`
}

type StoreSettings struct {
	Kind     string `koanf:"kind" validate:"oneof=memory file badger bolt"`
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"inMemory"`
}

type MonitorSettings struct {
	// Address of the monitoring endpoint; empty disables it.
	Address string `koanf:"address"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Log:       LogSettings{Level: "info"},
		Transport: TransportSettings{Location: runtime.DefaultLocation, Capacity: 1024},
		Engine: EngineSettings{
			MaxInitAttempts:     operator.DefaultMaxInitAttempts,
			MaxShutdownAttempts: operator.DefaultMaxShutdownAttempts,
			Idle:                operator.DefaultIdle,
			DrainTimeout:        operator.DefaultDrainTimeout,
		},
		Store: StoreSettings{Kind: store.KindMemory},
	}
}

func defaultsMap() map[string]any {
	d := Defaults()
	return map[string]any{
		"log.level":                  d.Log.Level,
		"transport.location":         d.Transport.Location,
		"transport.capacity":         d.Transport.Capacity,
		"engine.maxInitAttempts":     d.Engine.MaxInitAttempts,
		"engine.maxShutdownAttempts": d.Engine.MaxShutdownAttempts,
		"engine.idle":                d.Engine.Idle,
		"engine.drainTimeout":        d.Engine.DrainTimeout,
		"store.kind":                 d.Store.Kind,
		"store.path":                 d.Store.Path,
		"store.inMemory":             d.Store.InMemory,
		"monitor.address":            d.Monitor.Address,
	}
}

// flagKeys maps command-line flag names to settings keys.
var flagKeys = map[string]string{
	"log-level":        "log.level",
	"channel-location": "transport.location",
	"store":            "store.kind",
	"store-path":       "store.path",
	"monitor":          "monitor.address",
}

// BindFlags declares the command-line flags that override settings.
func BindFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.String("log-level", d.Log.Level, "log level (trace, debug, info, warn, error)")
	flags.String("channel-location", d.Transport.Location, "channel location of ports that set none")
	flags.String("store", d.Store.Kind, "deployment record store (memory, file, badger, bolt)")
	flags.String("store-path", d.Store.Path, "file or directory of the deployment record store")
	flags.String("monitor", d.Monitor.Address, "serve metrics and states on this address")
}

// Load builds Settings from, in increasing priority: built-in defaults, the
// YAML file at path (skipped when path is empty), PIPEZ_* environment
// variables and the flags that were set on the command line.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("load default settings: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, pipezerrors.NewParseError(path, 0, err)
		}
	}

	canonical := make(map[string]string, len(k.Keys()))
	for _, key := range k.Keys() {
		canonical[strings.ToLower(key)] = key
	}
	envKey := func(name string) string {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, EnvPrefix), "_", "."))
		if c, ok := canonical[key]; ok {
			return c
		}
		return key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment settings: %w", err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("load flag settings: %w", err)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, pipezerrors.NewValidationError("settings", err.Error(), err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field constraints and the store combinations.
func (s Settings) Validate() error {
	if err := docconfig.GetValidator().Struct(s); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) {
			fe := ves[0]
			field := settingsKey(fe.StructNamespace())
			return pipezerrors.NewValidationError(field, fmt.Sprintf("%v failed validation for tag '%s'", fe.Value(), fe.Tag()), err)
		}
		return pipezerrors.NewValidationError("settings", err.Error(), err)
	}
	if (s.Store.Kind == store.KindFile || s.Store.Kind == store.KindBolt) && s.Store.Path == "" {
		return pipezerrors.NewValidationError("store.path", fmt.Sprintf("required for the %s store", s.Store.Kind), nil)
	}
	if s.Store.Kind == store.KindBadger && s.Store.Path == "" && !s.Store.InMemory {
		return pipezerrors.NewValidationError("store.path", "required unless store.inMemory is set", nil)
	}
	return nil
}

// settingsKey turns Settings.Engine.MaxInitAttempts into engine.maxInitAttempts.
func settingsKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

// EngineOptions returns the lifecycle settings for operator engines.
func (s Settings) EngineOptions() operator.Options {
	return operator.Options{
		MaxInitAttempts:     s.Engine.MaxInitAttempts,
		MaxShutdownAttempts: s.Engine.MaxShutdownAttempts,
		Idle:                s.Engine.Idle,
		DrainTimeout:        s.Engine.DrainTimeout,
	}
}

// StoreOptions returns the deployment record store selection.
func (s Settings) StoreOptions() store.Options {
	return store.Options{Kind: s.Store.Kind, Path: s.Store.Path, InMemory: s.Store.InMemory}
}

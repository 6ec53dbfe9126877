package stdalloc

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/stdalloc/general"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
	"github.com/joshuapare/heapkit/stdalloc/small"
)

// Environment overrides read by ApplyEnv.
const (
	EnvDebug       = "STDALLOC_DEBUG"
	EnvStrictDebug = "STDALLOC_STRICT_DEBUG"
	EnvTrack       = "STDALLOC_TRACK"
	EnvLogAlloc    = "STDALLOC_LOG_ALLOC"
)

// Runtime debug flag for growth logging - controlled by STDALLOC_LOG_ALLOC env var.
var logAlloc = os.Getenv(EnvLogAlloc) != ""

// Config is read once when an Allocator is created.
type Config struct {
	// InitialSize is the size of the first general block, which is never released.
	InitialSize int `toml:"initial-size"`
	// Growable allows new backing blocks when the existing ones are exhausted.
	Growable bool `toml:"growable"`
	// MinGrowSize is the floor for a new general block.
	MinGrowSize int `toml:"min-grow-size"`
	// SmallBlockSize is the size of each small-object block. 0 disables the small chain.
	SmallBlockSize int `toml:"small-block-size"`
	// ProbeBudget caps best-fit candidates per size bucket. 0 is exhaustive.
	ProbeBudget int `toml:"probe-budget"`
	// AddressHash is "linear" or "sine".
	AddressHash string `toml:"address-hash"`
	// SizeClasses is "balanced", "fine" or "coarse".
	SizeClasses string `toml:"size-classes"`
	// Debug verifies every block after each mutation and panics on corruption.
	Debug bool `toml:"debug"`
	// StrictDebug routes every request to the general chain.
	StrictDebug bool `toml:"strict-debug"`
	// TrackAllocations records file, line and sequence number per allocation.
	TrackAllocations bool `toml:"track-allocations"`
	// Backend is "default", "mmap", "filemap", "virtualalloc" or "go".
	Backend string `toml:"backend"`

	Log logger.Config `toml:"log"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		InitialSize:    1 << 20,
		Growable:       true,
		MinGrowSize:    1 << 20,
		SmallBlockSize: 64 << 10,
		ProbeBudget:    16,
		AddressHash:    general.HashLinear.String(),
		SizeClasses:    general.DefaultSizeClasses.Name,
		Backend:        "default",
	}
}

// Validate checks every knob and returns an error wrapping ErrConfig.
func (c Config) Validate() error {
	if c.InitialSize < layout.MinFreeBlock || c.InitialSize > layout.MaxBlockSize {
		return errors.Wrapf(ErrConfig, "initial-size %d outside [%d, %d]",
			c.InitialSize, layout.MinFreeBlock, layout.MaxBlockSize)
	}
	if c.MinGrowSize < 0 || c.MinGrowSize > layout.MaxBlockSize {
		return errors.Wrapf(ErrConfig, "min-grow-size %d", c.MinGrowSize)
	}
	if c.SmallBlockSize != 0 && c.SmallBlockSize < small.MinBlockSize {
		return errors.Wrapf(ErrConfig, "small-block-size %d below %d", c.SmallBlockSize, small.MinBlockSize)
	}
	if c.ProbeBudget < 0 {
		return errors.Wrapf(ErrConfig, "probe-budget %d", c.ProbeBudget)
	}
	if _, err := c.heapOptions(); err != nil {
		return err
	}
	if _, _, err := osheap.BackendByName(c.Backend); err != nil {
		return configError(err)
	}
	return nil
}

func (c Config) heapOptions() (general.Options, error) {
	hash, err := general.ParseHashPolicy(c.AddressHash)
	if err != nil {
		return general.Options{}, configError(err)
	}
	classes, err := general.SizeClassesByName(c.SizeClasses)
	if err != nil {
		return general.Options{}, configError(err)
	}
	return general.Options{SizeClasses: classes, AddressHash: hash, ProbeBudget: c.ProbeBudget}, nil
}

// LoadConfig reads a TOML file over DefaultConfig, applies environment
// overrides and validates the result. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "stdalloc: load %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Wrapf(ErrConfig, "unknown key %q in %s", undecoded[0].String(), path)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides the debug switches from the environment.
func (c *Config) ApplyEnv() error {
	for _, o := range []struct {
		name string
		dst  *bool
	}{
		{EnvDebug, &c.Debug},
		{EnvStrictDebug, &c.StrictDebug},
		{EnvTrack, &c.TrackAllocations},
	} {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(ErrConfig, "%s=%q", o.name, v)
		}
		*o.dst = b
	}
	return nil
}

// configError reports err as a configuration failure and keeps it matchable.
func configError(err error) error {
	return errors.Join(ErrConfig, err)
}

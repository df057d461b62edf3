// Package registry connects programmatically registered multitests with the
// plan config file that selects which of them a run executes and how the
// worker pool is shaped.
package registry

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-harness/multitest"
	"github.com/ethereum-optimism/infra/op-harness/pool"
)

// Factory builds a fresh multitest instance for one run. Factories are
// invoked per run so continuous mode never reuses driver state.
type Factory func() *multitest.MultiTest

// Duration wraps time.Duration with YAML support for "30s"-style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Selection names one registered multitest in the plan, optionally overriding
// its execution group and default timeout.
type Selection struct {
	Name    string   `yaml:"name"`
	Group   string   `yaml:"group,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// PlanConfig is the YAML plan file: which multitests run and how the pool's
// execution groups are sized.
type PlanConfig struct {
	Name                string             `yaml:"name"`
	Groups              []pool.GroupConfig `yaml:"groups,omitempty"`
	AllowImplicitGroups bool               `yaml:"allow_implicit_groups,omitempty"`
	Workers             int                `yaml:"workers,omitempty"`
	DefaultTimeout      Duration           `yaml:"default_timeout,omitempty"`
	MultiTests          []Selection        `yaml:"multitests"`
}

// Config contains registry configuration
type Config struct {
	Log            log.Logger
	PlanConfigFile string
	DefaultTimeout time.Duration
}

// Registry manages registered multitests and the loaded plan.
type Registry struct {
	config Config
	plan   *PlanConfig

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry and loads the plan config.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.PlanConfigFile == "" {
		return nil, fmt.Errorf("plan config file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		config:    cfg,
		factories: make(map[string]Factory),
	}

	plan, err := loadPlan(cfg.PlanConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	r.plan = plan

	cfg.Log.Debug("Registry loaded", "plan", plan.Name, "len(multitests)", len(plan.MultiTests))
	return r, nil
}

// Register adds a multitest factory under its name. Duplicate names are a
// configuration error.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("multitest name is required")
	}
	if factory == nil {
		return fmt.Errorf("multitest %s: factory is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("multitest %s is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Plan returns the loaded plan config.
func (r *Registry) Plan() *PlanConfig {
	return r.plan
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

// PoolConfig derives the worker pool shape from the plan.
func (r *Registry) PoolConfig() pool.Config {
	return pool.Config{
		Groups:              r.plan.Groups,
		AllowImplicitGroups: r.plan.AllowImplicitGroups,
		DefaultSlots:        r.plan.Workers,
	}
}

// Resolve instantiates the multitests the plan selects, in plan order,
// applying per-selection group and timeout overrides. An unregistered
// selection is a configuration error.
func (r *Registry) Resolve() ([]*multitest.MultiTest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*multitest.MultiTest, 0, len(r.plan.MultiTests))
	for _, sel := range r.plan.MultiTests {
		factory, ok := r.factories[sel.Name]
		if !ok {
			return nil, fmt.Errorf("plan selects unregistered multitest %q", sel.Name)
		}
		mt := factory()
		if mt == nil {
			return nil, fmt.Errorf("multitest %s: factory returned nil", sel.Name)
		}
		if mt.Name != sel.Name {
			return nil, fmt.Errorf("multitest factory for %q produced %q", sel.Name, mt.Name)
		}
		if sel.Group != "" {
			mt.Group = sel.Group
		}
		if sel.Timeout > 0 {
			mt.Timeout = time.Duration(sel.Timeout)
		} else if mt.Timeout == 0 && r.plan.DefaultTimeout > 0 {
			mt.Timeout = time.Duration(r.plan.DefaultTimeout)
		} else if mt.Timeout == 0 {
			mt.Timeout = r.config.DefaultTimeout
		}
		out = append(out, mt)
	}
	return out, nil
}

// loadPlan loads a plan config from a file
func loadPlan(path string) (*PlanConfig, error) {
	log.Debug("Reading plan config file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg PlanConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("plan requires a name")
	}
	if len(cfg.MultiTests) == 0 {
		return nil, fmt.Errorf("plan %s selects no multitests", cfg.Name)
	}
	seen := make(map[string]struct{}, len(cfg.MultiTests))
	for _, sel := range cfg.MultiTests {
		if sel.Name == "" {
			return nil, fmt.Errorf("plan %s: multitest selection requires a name", cfg.Name)
		}
		if _, ok := seen[sel.Name]; ok {
			return nil, fmt.Errorf("plan %s: multitest %s selected twice", cfg.Name, sel.Name)
		}
		seen[sel.Name] = struct{}{}
	}
	return &cfg, nil
}

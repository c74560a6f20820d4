// Package config provides configuration loading and management for mritract.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"mritract/pkg/codec"
	"mritract/pkg/estimation"
	"mritract/pkg/interpolation"
	"mritract/pkg/parcellation"
	"mritract/pkg/tracking"
	"mritract/pkg/tractography"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Streamline propagation parameters
	Tracking struct {
		// Threads is the number of tracking workers
		Threads int `yaml:"threads"`

		// Seed makes random seeding and probabilistic tracking reproducible
		Seed uint64 `yaml:"seed"`

		Step     float64 `yaml:"step"`
		Angle    float64 `yaml:"angle"`
		Min      float64 `yaml:"min"`
		Max      float64 `yaml:"max"`
		MinLen   float64 `yaml:"minlen"`
		MaxLen   float64 `yaml:"maxlen"`
		Reach    float64 `yaml:"reach"`
		Mixing   float64 `yaml:"mixing"`
		Disperse float64 `yaml:"disperse"`

		RK     bool `yaml:"rk"`
		Vector bool `yaml:"vector"`
		Mono   bool `yaml:"mono"`
		Empty  bool `yaml:"empty"`

		// Probabilistic mode
		Prob       bool    `yaml:"prob"`
		ProbMax    bool    `yaml:"probMax"`
		ProbAngle  float64 `yaml:"probAngle"`
		ProbPower  float64 `yaml:"probPower"`
		ProbPoints int     `yaml:"probPoints"`
		GForce     float64 `yaml:"gforce"`

		// Model overrides the declared model of the input volume
		Model string `yaml:"model"`

		// Seeding
		SamplesFactor float64 `yaml:"samplesFactor"`
		SamplesMask   int     `yaml:"samplesMask"`
		SamplesSolids int     `yaml:"samplesSolids"`
		MaxSeeds      int     `yaml:"maxSeeds"`
		Strict        bool    `yaml:"strict"`

		// Selection
		MaxTracks  int     `yaml:"maxTracks"`
		Arclen     float64 `yaml:"arclen"`
		Binarize   bool    `yaml:"binarize"`
		EndConnect bool    `yaml:"endConnect"`
	} `yaml:"tracking"`

	// Two-stage hybrid tracking parameters
	Hybrid struct {
		Enabled       bool     `yaml:"enabled"`
		SamplesFactor float64  `yaml:"samplesFactor"`
		Min           *float64 `yaml:"min,omitempty"`
		Angle         *float64 `yaml:"angle,omitempty"`
		Disperse      float64  `yaml:"disperse"`
		Interp        string   `yaml:"interp"`
		Presmooth     float64  `yaml:"presmooth"`
		Postsmooth    float64  `yaml:"postsmooth"`
		ProjAngle     float64  `yaml:"projAngle"`
		ProjNorm      float64  `yaml:"projNorm"`
		ProjFrac      float64  `yaml:"projFrac"`
		ProjFsum      float64  `yaml:"projFsum"`
	} `yaml:"hybrid"`

	// Kernel re-estimation parameters
	Estimation struct {
		Interp  string  `yaml:"interp"`
		Support int     `yaml:"support"`
		Hpos    float64 `yaml:"hpos"`
		Hval    float64 `yaml:"hval"`
		Hsig    float64 `yaml:"hsig"`

		// Log selects log-euclidean tensor estimation
		Log bool `yaml:"log"`

		// Fibers estimation
		Comps     int     `yaml:"comps"`
		Fibers    string  `yaml:"fibers"`
		Selection string  `yaml:"selection"`
		Lambda    float64 `yaml:"lambda"`
		MinFrac   float64 `yaml:"minFrac"`
		Restarts  int     `yaml:"restarts"`

		// Noddi estimation, optionally prefixed with Weighted
		Noddi string `yaml:"noddi"`
	} `yaml:"estimation"`

	// Connectivity based parcellation parameters
	Parcellation struct {
		Density  int     `yaml:"density"`
		Segments int     `yaml:"segments"`
		Rep      string  `yaml:"rep"`
		Coarse   float64 `yaml:"coarse"`
	} `yaml:"parcellation"`

	// Output parameters
	Output struct {
		// LogLevel is one of debug, info, warn or error
		LogLevel string `yaml:"logLevel"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`

		// Quiet only reports warnings and errors
		Quiet bool `yaml:"quiet"`

		// IntermediaryDir receives the intermediate hybrid results when set
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Compression of the intermediate results: gzip, zstd, lz4 or none
		Compression string `yaml:"compression"`

		// SnapshotDir receives slice images of output masks when set
		SnapshotDir string `yaml:"snapshotDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	tp := tractography.DefaultParams()

	cfg.Tracking.Threads = runtime.NumCPU()
	cfg.Tracking.Step = tp.Tracking.Step
	cfg.Tracking.Angle = tp.Tracking.Angle
	cfg.Tracking.Min = tp.Tracking.Min
	cfg.Tracking.MaxLen = tp.Tracking.MaxLen
	cfg.Tracking.Mixing = tp.Tracking.Mixing
	cfg.Tracking.ProbAngle = tp.Tracking.ProbAngle
	cfg.Tracking.ProbPower = tp.Tracking.ProbPower
	cfg.Tracking.ProbPoints = tp.ProbPoints
	cfg.Tracking.SamplesFactor = tp.SamplesFactor
	cfg.Tracking.SamplesMask = tp.SamplesMask
	cfg.Tracking.SamplesSolids = tp.SamplesSolids
	cfg.Tracking.MaxSeeds = tp.MaxSeeds
	cfg.Tracking.MaxTracks = tp.MaxTracks
	cfg.Tracking.Arclen = tp.Arclen

	cfg.Hybrid.SamplesFactor = tp.Hybrid.SamplesFactor
	cfg.Hybrid.Disperse = tp.Hybrid.Disperse
	cfg.Hybrid.Interp = tp.Hybrid.Interp.String()
	cfg.Hybrid.ProjAngle = tp.Hybrid.ProjAngle
	cfg.Hybrid.ProjNorm = tp.Hybrid.ProjNorm
	cfg.Hybrid.ProjFrac = tp.Hybrid.ProjFrac
	cfg.Hybrid.ProjFsum = tp.Hybrid.ProjFsum

	fe := tp.Estimation.Fibers
	cfg.Estimation.Interp = tp.Kernel.Interp.String()
	cfg.Estimation.Support = tp.Kernel.Support
	cfg.Estimation.Hpos = tp.Kernel.Hpos
	cfg.Estimation.Comps = tp.Comps
	cfg.Estimation.Fibers = fe.Estimation.String()
	cfg.Estimation.Selection = fe.Selection.String()
	cfg.Estimation.Lambda = fe.Lambda
	cfg.Estimation.MinFrac = fe.MinFrac
	cfg.Estimation.Restarts = fe.Restarts
	cfg.Estimation.Noddi = "Component"

	pp := parcellation.DefaultParams()
	cfg.Parcellation.Density = pp.Density
	cfg.Parcellation.Segments = pp.Segments
	cfg.Parcellation.Rep = string(pp.Rep)

	cfg.Output.LogLevel = "info"
	cfg.Output.LogFormat = "text"
	cfg.Output.Compression = codec.Gzip.String()

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks every value range of the configuration
func (c *Config) Validate() error {
	params, err := c.TractographyParams()
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if _, err := c.ParcellationParams(); err != nil {
		return err
	}
	if _, err := codec.ParseCompression(c.Output.Compression); err != nil {
		return fmt.Errorf("%w: %v", tracking.ErrInvalidConfiguration, err)
	}
	return nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", tracking.ErrInvalidConfiguration, err)
}

// TractographyParams converts the tracking, hybrid and estimation sections
func (c *Config) TractographyParams() (tractography.Params, error) {
	p := tractography.DefaultParams()
	t := c.Tracking

	p.Tracking = tracking.Params{
		Step:      t.Step,
		Angle:     t.Angle,
		Min:       t.Min,
		Max:       t.Max,
		MinLen:    t.MinLen,
		MaxLen:    t.MaxLen,
		Reach:     t.Reach,
		RK:        t.RK,
		Disperse:  t.Disperse,
		Vector:    t.Vector,
		Mixing:    t.Mixing,
		Empty:     t.Empty,
		Mono:      t.Mono,
		Prob:      t.Prob,
		ProbMax:   t.ProbMax,
		ProbAngle: t.ProbAngle,
		ProbPower: t.ProbPower,
		GForce:    t.GForce,
		Threads:   t.Threads,
		Seed:      t.Seed,
	}
	p.Model = t.Model
	p.ProbPoints = t.ProbPoints
	p.SamplesFactor = t.SamplesFactor
	p.SamplesMask = t.SamplesMask
	p.SamplesSolids = t.SamplesSolids
	p.MaxSeeds = t.MaxSeeds
	p.Strict = t.Strict
	p.MaxTracks = t.MaxTracks
	p.Arclen = t.Arclen
	p.Binarize = t.Binarize
	p.EndConnect = t.EndConnect

	e := c.Estimation
	interp, err := interpolation.ParseKernel(e.Interp)
	if err != nil {
		return p, invalid(err)
	}
	p.Kernel = interpolation.KernelParams{Interp: interp, Support: e.Support, Hpos: e.Hpos, Hval: e.Hval, Hsig: e.Hsig}
	p.Comps = e.Comps
	p.Estimation.Tensor.Log = e.Log

	fe := &p.Estimation.Fibers
	if fe.Estimation, err = estimation.ParseFibersEstimation(e.Fibers); err != nil {
		return p, invalid(err)
	}
	if fe.Selection, err = estimation.ParseFibersSelection(e.Selection); err != nil {
		return p, invalid(err)
	}
	fe.Lambda = e.Lambda
	fe.MinFrac = e.MinFrac
	fe.Restarts = e.Restarts
	fe.MaxComps = e.Comps
	fe.Seed = t.Seed

	method, weighted, err := estimation.ParseNoddiMethod(e.Noddi)
	if err != nil {
		return p, invalid(err)
	}
	p.Estimation.Noddi.Method = method
	p.Estimation.Noddi.WeightICVF = weighted
	p.Estimation.Noddi.WeightISOVF = weighted

	h := c.Hybrid
	hinterp, err := interpolation.ParseKernel(h.Interp)
	if err != nil {
		return p, invalid(err)
	}
	p.Hybrid = tractography.HybridParams{
		Enabled:       h.Enabled,
		SamplesFactor: h.SamplesFactor,
		Min:           h.Min,
		Angle:         h.Angle,
		Disperse:      h.Disperse,
		Interp:        hinterp,
		Presmooth:     h.Presmooth,
		Postsmooth:    h.Postsmooth,
		ProjAngle:     h.ProjAngle,
		ProjNorm:      h.ProjNorm,
		ProjFrac:      h.ProjFrac,
		ProjFsum:      h.ProjFsum,
	}
	return p, nil
}

// ParcellationParams converts the parcellation section, tracking with the
// tracking and estimation sections
func (c *Config) ParcellationParams() (parcellation.Params, error) {
	p := parcellation.DefaultParams()
	tp, err := c.TractographyParams()
	if err != nil {
		return p, err
	}
	p.Tracking = tp
	p.Density = c.Parcellation.Density
	p.Segments = c.Parcellation.Segments
	p.Coarse = c.Parcellation.Coarse
	if p.Rep, err = parcellation.ParseRepresentation(c.Parcellation.Rep); err != nil {
		return p, err
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

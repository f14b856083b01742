package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"liptrain/nn"
	"liptrain/optimizer"
)

// Training methods.
const (
	MethodNominal           = "nominal"
	MethodL2                = "l2"
	MethodBarrier           = "barrier"
	MethodBarrierFixedT     = "barrier-fixed-t"
	MethodBarrierPretrained = "barrier-pretrained"
)

var methods = []string{MethodNominal, MethodL2, MethodBarrier, MethodBarrierFixedT, MethodBarrierPretrained}

// DataConfig locates the CSV files.
type DataConfig struct {
	Train     string `mapstructure:"train" yaml:"train"`
	Test      string `mapstructure:"test" yaml:"test"`
	Normalize bool   `mapstructure:"normalize" yaml:"normalize"`
}

// Config holds training configuration
type Config struct {
	// Architecture lists the widths, e.g. "2 10 10 3".
	Architecture string     `mapstructure:"architecture" yaml:"architecture"`
	Activation   string     `mapstructure:"activation" yaml:"activation"`
	Loss         string     `mapstructure:"loss" yaml:"loss"`
	Data         DataConfig `mapstructure:"data" yaml:"data"`
	BatchSize    int        `mapstructure:"batch_size" yaml:"batch_size"`
	Seed         uint64     `mapstructure:"seed" yaml:"seed"`
	InitScale    float64    `mapstructure:"init_scale" yaml:"init_scale"`

	Method string `mapstructure:"method" yaml:"method"`
	// Psi is the Lipschitz bound enforced by the barrier methods.
	Psi float64 `mapstructure:"psi" yaml:"psi"`
	// Rho weighs the squared weight norm of the l2 method.
	Rho float64 `mapstructure:"rho" yaml:"rho"`
	// InitT is the uniform start value of trained multipliers.
	InitT float64 `mapstructure:"init_t" yaml:"init_t"`
	// TParam fixes uniform multipliers for barrier-fixed-t. Zero derives
	// them from the initial weights.
	TParam    float64 `mapstructure:"tparam" yaml:"tparam"`
	Stability float64 `mapstructure:"stability" yaml:"stability"`

	Adam        optimizer.AdamSettings `mapstructure:"adam" yaml:"adam"`
	CentralPath optimizer.Settings     `mapstructure:"central_path" yaml:"central_path"`

	Output   string `mapstructure:"output" yaml:"output"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogEvery int    `mapstructure:"log_every" yaml:"log_every"`
}

// DefaultConfig returns the settings used when neither a file nor a flag
// overrides them.
func DefaultConfig() *Config {
	return &Config{
		Architecture: "2 10 10 2",
		Activation:   "tanh",
		Loss:         "crossentropy",
		BatchSize:    50,
		Seed:         1,
		InitScale:    0.1,
		Method:       MethodBarrier,
		Psi:          5,
		Rho:          1e-3,
		InitT:        0.1,
		Stability:    0.01,
		Adam:         optimizer.DefaultAdamSettings(),
		CentralPath:  optimizer.DefaultSettings(),
		Output:       "model.json",
		LogLevel:     "info",
		LogEvery:     100,
	}
}

// SetDefaults registers every field of DefaultConfig with v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("architecture", d.Architecture)
	v.SetDefault("activation", d.Activation)
	v.SetDefault("loss", d.Loss)
	v.SetDefault("data.train", d.Data.Train)
	v.SetDefault("data.test", d.Data.Test)
	v.SetDefault("data.normalize", d.Data.Normalize)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("init_scale", d.InitScale)
	v.SetDefault("method", d.Method)
	v.SetDefault("psi", d.Psi)
	v.SetDefault("rho", d.Rho)
	v.SetDefault("init_t", d.InitT)
	v.SetDefault("tparam", d.TParam)
	v.SetDefault("stability", d.Stability)

	v.SetDefault("adam.max_iter", d.Adam.MaxIter)
	v.SetDefault("adam.diff", d.Adam.Diff)
	v.SetDefault("adam.grad_diff", d.Adam.GradDiff)
	v.SetDefault("adam.alpha", d.Adam.Alpha)
	v.SetDefault("adam.beta1", d.Adam.Beta1)
	v.SetDefault("adam.beta2", d.Adam.Beta2)
	v.SetDefault("adam.eps", d.Adam.Eps)

	cp := d.CentralPath
	v.SetDefault("central_path.max_iter", cp.MaxIter)
	v.SetDefault("central_path.stages", cp.Stages)
	v.SetDefault("central_path.diff", cp.Diff)
	v.SetDefault("central_path.threshold", cp.Threshold)
	v.SetDefault("central_path.window", cp.Window)
	v.SetDefault("central_path.gamma", cp.Gamma)
	v.SetDefault("central_path.alpha", cp.Alpha)
	v.SetDefault("central_path.beta1", cp.Beta1)
	v.SetDefault("central_path.beta2", cp.Beta2)
	v.SetDefault("central_path.beta3", cp.Beta3)
	v.SetDefault("central_path.alpha_dec", cp.AlphaDec)
	v.SetDefault("central_path.gamma_dec", cp.GammaDec)
	v.SetDefault("central_path.eps", cp.Eps)
	v.SetDefault("central_path.guard", cp.Guard)

	v.SetDefault("output", d.Output)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_every", d.LogEvery)
}

// LoadConfig reads an optional YAML file into v and decodes the merged
// defaults, file values, environment and bound flags.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("liptrain")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// WriteConfig stores cfg as YAML.
func WriteConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ParseArchitecture parses architecture string into slice of integers
func ParseArchitecture(archStr string) ([]int, error) {
	archParts := strings.Fields(archStr)
	arch := make([]int, len(archParts))
	for i, s := range archParts {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		arch[i] = n
	}
	return arch, nil
}

// Widths parses the architecture.
func (c *Config) Widths() ([]int, error) {
	return ParseArchitecture(c.Architecture)
}

// IsBarrier reports whether the method trains under the certificate.
func (c *Config) IsBarrier() bool {
	return strings.HasPrefix(c.Method, MethodBarrier)
}

// ValidateConfig validates training configuration
func ValidateConfig(config *Config) error {
	arch, err := config.Widths()
	if err != nil {
		return fmt.Errorf("invalid architecture %q: %w", config.Architecture, err)
	}
	if len(arch) < 3 {
		return fmt.Errorf("architecture must have at least 3 layers (input, hidden and output)")
	}
	for _, n := range arch {
		if n <= 0 {
			return fmt.Errorf("architecture widths must be positive, got %v", arch)
		}
	}

	if config.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if _, err := nn.ActivatorByName(config.Activation); err != nil {
		return err
	}
	if _, err := nn.LossByName(config.Loss); err != nil {
		return err
	}

	known := false
	for _, m := range methods {
		known = known || m == config.Method
	}
	if !known {
		return fmt.Errorf("method must be one of %s, got %q", strings.Join(methods, ", "), config.Method)
	}
	if config.IsBarrier() && !(config.Psi > 0) {
		return fmt.Errorf("psi must be positive for method %s", config.Method)
	}
	if config.Method == MethodL2 && config.Rho < 0 {
		return fmt.Errorf("rho must be non-negative")
	}
	if config.Stability < 0 {
		return fmt.Errorf("stability must be non-negative")
	}

	if err := config.Adam.Validate(); err != nil {
		return fmt.Errorf("adam: %w", err)
	}
	if err := config.CentralPath.Validate(); err != nil {
		return fmt.Errorf("central_path: %w", err)
	}
	return nil
}

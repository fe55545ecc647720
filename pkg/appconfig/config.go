package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	yaml "sigs.k8s.io/yaml"
)

type KubernetesConfig struct {
	// RequestTimeout bounds list and delete calls.
	RequestTimeout metav1.Duration `json:"requestTimeout"`
	// DiscoveryRefresh is the interval at which the API discovery cache is
	// dropped.
	DiscoveryRefresh metav1.Duration `json:"discoveryRefresh"`
}

type WatchConfig struct {
	OpenTimeout metav1.Duration `json:"openTimeout"`
	Parallelism int             `json:"parallelism"`
}

type ViewerConfig struct {
	Theme string `json:"theme"`
}

type OutputConfig struct {
	Color bool `json:"color"`
}

type Config struct {
	Kubernetes KubernetesConfig `json:"kubernetes"`
	Watch      WatchConfig      `json:"watch"`
	Viewer     ViewerConfig     `json:"viewer"`
	Output     OutputConfig     `json:"output"`
}

func Default() *Config {
	return &Config{
		Kubernetes: KubernetesConfig{
			RequestTimeout:   metav1.Duration{Duration: 30 * time.Second},
			DiscoveryRefresh: metav1.Duration{Duration: 30 * time.Second},
		},
		Watch: WatchConfig{
			OpenTimeout: metav1.Duration{Duration: 10 * time.Second},
			Parallelism: 4,
		},
		Viewer: ViewerConfig{Theme: "dracula"},
		Output: OutputConfig{Color: true},
	}
}

// Path returns the location of the config file, ~/.kcmodel/config.yaml.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kcmodel", "config.yaml"), nil
}

// Load reads ~/.kcmodel/config.yaml if present, otherwise returns defaults.
func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return Default(), err
	}
	return LoadFile(p)
}

// LoadFile reads the config at p. A missing file yields the defaults. Keys
// absent from the file keep their default values.
func LoadFile(p string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse %s: %w", p, err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize replaces values that cannot be used with their defaults.
func (c *Config) normalize() {
	def := Default()
	if c.Kubernetes.RequestTimeout.Duration < 0 {
		c.Kubernetes.RequestTimeout = def.Kubernetes.RequestTimeout
	}
	if c.Kubernetes.DiscoveryRefresh.Duration <= 0 {
		c.Kubernetes.DiscoveryRefresh = def.Kubernetes.DiscoveryRefresh
	}
	if c.Watch.OpenTimeout.Duration < 0 {
		c.Watch.OpenTimeout = def.Watch.OpenTimeout
	}
	if c.Watch.Parallelism <= 0 {
		c.Watch.Parallelism = def.Watch.Parallelism
	}
	c.Viewer.Theme = strings.ToLower(c.Viewer.Theme)
	if c.Viewer.Theme == "" {
		c.Viewer.Theme = def.Viewer.Theme
	}
}

// Save writes the config to ~/.kcmodel/config.yaml, creating the directory if needed.
func Save(cfg *Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(cfg, p)
}

// SaveFile writes cfg to p.
func SaveFile(cfg *Config, p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	out := *cfg
	out.Viewer.Theme = strings.ToLower(out.Viewer.Theme)
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/lookout/errors"
)

// ProjectConfigName is the file searched for from the working directory upward
const ProjectConfigName = "lookout.toml"

// Load reads the configuration cascade. When explicitPath is non-empty it is
// merged last (above the project file, below env vars) and must exist.
func Load(explicitPath string) (*Config, error) {
	v, err := NewViper(explicitPath)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads defaults plus a single config file, without the env or
// the system/user cascade
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	return LoadWithViper(v)
}

// NewViper builds a Viper instance with defaults, the file cascade and env
// bindings applied
func NewViper(explicitPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)

	for _, src := range ConfigSources(explicitPath) {
		if !src.Exists {
			if src.Explicit {
				return nil, errors.NewConfigurationError("config file %s does not exist", src.Path)
			}
			continue
		}
		if err := mergeFile(v, src.Path); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// Source describes one file in the configuration cascade
type Source struct {
	Path     string
	Exists   bool
	Explicit bool
}

// ConfigSources lists the cascade in precedence order (lowest first):
// system < user < project < explicit. Env vars sit above all files.
func ConfigSources(explicitPath string) []Source {
	paths := []string{filepath.Join("/etc", "lookout", ProjectConfigName)}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".lookout", ProjectConfigName))
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}

	sources := make([]Source, 0, len(paths)+1)
	for _, p := range paths {
		sources = append(sources, Source{Path: p, Exists: fileExists(p)})
	}
	if explicitPath != "" {
		sources = append(sources, Source{Path: explicitPath, Exists: fileExists(explicitPath), Explicit: true})
	}
	return sources
}

// findProjectConfig searches for lookout.toml by walking up the directory tree
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ProjectConfigName)
		if fileExists(candidate) {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func mergeFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to read config file %s", path), errors.ErrConfiguration)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

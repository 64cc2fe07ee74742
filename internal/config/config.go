// Package config loads INI configuration for test steps.
//
// Files are merged in the order given. The [defaults] section applies to
// every subtest. Any other section names a subtest by a slash path, e.g.
// [docker_cli/run/basic], and inherits from [docker_cli/run], then
// [docker_cli], then [defaults]. Environment variables DOCKERTEST_<KEY>
// override every file.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

const (
	DefaultsSection = "defaults"
	EnvPrefix       = "DOCKERTEST"

	// iniDefaultSection holds keys that appear before any section header.
	iniDefaultSection = "default"
)

// Settings are the values the harness itself understands.
type Settings struct {
	DockerPath    string        `mapstructure:"docker_path" json:"docker_path"`
	DockerOptions string        `mapstructure:"docker_options" json:"docker_options"`
	DockerTimeout time.Duration `mapstructure:"docker_timeout" json:"docker_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	Settle        time.Duration `mapstructure:"settle" json:"settle"`
	LogFile       string        `mapstructure:"log_file" json:"log_file"`
	TranscriptDir string        `mapstructure:"transcript_dir" json:"transcript_dir"`
	Debug         bool          `mapstructure:"debug" json:"debug"`
}

var settingKeys = []string{
	"docker_path",
	"docker_options",
	"docker_timeout",
	"poll_interval",
	"settle",
	"log_file",
	"transcript_dir",
	"debug",
}

// IsSettingKey reports whether key is decoded into Settings.
func IsSettingKey(key string) bool {
	for _, k := range settingKeys {
		if k == key {
			return true
		}
	}
	return false
}

func Defaults() Settings {
	return Settings{
		DockerPath:    "docker",
		DockerTimeout: 60 * time.Second,
		PollInterval:  10 * time.Millisecond,
		Settle:        500 * time.Millisecond,
	}
}

// Validate reports every invalid setting at once.
func (s Settings) Validate() error {
	var errs *multierror.Error
	if s.DockerPath == "" {
		errs = multierror.Append(errs, fmt.Errorf("docker_path must not be empty"))
	}
	if s.DockerTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("docker_timeout must be positive, got %s", s.DockerTimeout))
	}
	if s.PollInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("poll_interval must be positive, got %s", s.PollInterval))
	}
	if s.Settle < 0 {
		errs = multierror.Append(errs, fmt.Errorf("settle must not be negative, got %s", s.Settle))
	}
	return errs.ErrorOrNil()
}

// Config is the merged content of all loaded INI files.
type Config struct {
	v   *viper.Viper
	env *viper.Viper
}

// Load reads and merges the given INI files. With no files only the
// built-in defaults and the environment apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		f, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.MergeConfigMap(sectionMap(f)); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", path, err)
		}
	}

	env := viper.New()
	env.SetEnvPrefix(EnvPrefix)
	env.AutomaticEnv()

	return &Config{v: v, env: env}, nil
}

// sectionMap flattens an INI file into section -> key -> value, with
// section and key names lowercased.
func sectionMap(f *ini.File) map[string]interface{} {
	out := make(map[string]interface{})
	for _, sec := range f.Sections() {
		name := strings.ToLower(sec.Name())
		if sec.Name() == ini.DefaultSection {
			if len(sec.Keys()) == 0 {
				continue
			}
			name = iniDefaultSection
		}
		values := make(map[string]interface{})
		for _, key := range sec.Keys() {
			values[strings.ToLower(key.Name())] = key.String()
		}
		out[name] = values
	}
	return out
}

// Subtests lists the configured subtest sections in sorted order.
func (c *Config) Subtests() []string {
	var names []string
	for key, val := range c.v.AllSettings() {
		if key == DefaultsSection || key == iniDefaultSection {
			continue
		}
		if _, ok := val.(map[string]interface{}); ok {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}

// Subtest is the resolved configuration of one subtest.
type Subtest struct {
	Name     string
	Settings Settings
	// Values holds every merged key, including ones the harness does not
	// interpret itself.
	Values map[string]string
}

// Get returns a raw value, "" when unset.
func (s *Subtest) Get(key string) string {
	return s.Values[strings.ToLower(key)]
}

func (s *Subtest) Duration(key string) (time.Duration, error) {
	val, ok := s.Values[strings.ToLower(key)]
	if !ok {
		return 0, fmt.Errorf("%s: %q is not set", s.Name, key)
	}
	d, err := cast.ToDurationE(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %s: %w", s.Name, key, err)
	}
	return d, nil
}

func (s *Subtest) Bool(key string) (bool, error) {
	val, ok := s.Values[strings.ToLower(key)]
	if !ok {
		return false, nil
	}
	b, err := cast.ToBoolE(val)
	if err != nil {
		return false, fmt.Errorf("%s: %s: %w", s.Name, key, err)
	}
	return b, nil
}

// Resolve merges the sections that apply to name ("" for defaults only),
// decodes the harness settings and validates them.
func (c *Config) Resolve(name string) (*Subtest, error) {
	name = strings.Trim(strings.ToLower(name), "/")

	values := make(map[string]string)
	for _, section := range sectionChain(name) {
		for key, val := range c.v.GetStringMap(section) {
			values[key] = cast.ToString(val)
		}
	}
	for _, key := range settingKeys {
		if c.env.IsSet(key) {
			values[key] = c.env.GetString(key)
		}
	}

	settings := Defaults()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &settings,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(values); err != nil {
		return nil, fmt.Errorf("decode settings for %q: %w", name, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings for %q: %w", name, err)
	}

	return &Subtest{Name: name, Settings: settings, Values: values}, nil
}

// sectionChain returns the sections applying to name, lowest precedence first.
func sectionChain(name string) []string {
	chain := []string{iniDefaultSection, DefaultsSection}
	if name == "" {
		return chain
	}
	parts := strings.Split(name, "/")
	for i := range parts {
		chain = append(chain, strings.Join(parts[:i+1], "/"))
	}
	return chain
}

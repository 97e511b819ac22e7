package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/italolelis/seedbox_aria2/internal/match"
)

// TaskConfig is the per-task submission policy, read from a YAML file:
//
//	main_file_only: true
//	main_file_ratio: 0.8
//	include_subs: true
//	skip_files: sample.*
//	content_filename: "{{ .title }}"
//	path: ~/downloads/{{ .series }}
//	aria_config:
//	  max-connection-per-server: 4
//	  pause-metadata: true
type TaskConfig struct {
	ContentFilename      string            `yaml:"content_filename"`
	Path                 string            `yaml:"path"`
	MainFileOnly         bool              `yaml:"main_file_only"`
	MainFileRatio        float64           `yaml:"main_file_ratio"`
	MagnetizationTimeout int               `yaml:"magnetization_timeout"`
	IncludeSubs          bool              `yaml:"include_subs"`
	IncludeFiles         StringList        `yaml:"include_files"`
	SkipFiles            StringList        `yaml:"skip_files"`
	RenameLikeFiles      bool              `yaml:"rename_like_files"`
	AriaConfig           OptionValues      `yaml:"aria_config"`
	DryRun               bool              `yaml:"dry_run"`
	Demagnetize          DemagnetizeConfig `yaml:"demagnetize"`
}

// DemagnetizeConfig controls resolving magnet links into metainfo files before submission.
type DemagnetizeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Timeout int    `yaml:"timeout"`
	Dir     string `yaml:"dir"`
}

// DefaultTaskConfig returns the configuration used for keys absent from the file.
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		MainFileRatio: 0.9,
		Demagnetize: DemagnetizeConfig{
			Timeout: 30,
			Dir:     "/tmp",
		},
	}
}

// LoadTaskConfig reads and validates the task configuration at path. A missing
// file yields the defaults.
func LoadTaskConfig(path string) (TaskConfig, error) {
	cfg := DefaultTaskConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if err != nil {
		return cfg, fmt.Errorf("reading task config %s: %w", path, err)
	}

	if err := ParseTaskConfig(data, &cfg); err != nil {
		return cfg, fmt.Errorf("task config %s: %w", path, err)
	}

	return cfg, nil
}

// ParseTaskConfig decodes data over cfg, rejecting unknown keys, and validates the result.
func ParseTaskConfig(data []byte, cfg *TaskConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding yaml: %w", err)
	}

	return cfg.Validate()
}

// Validate checks value ranges that the YAML types cannot express.
func (c TaskConfig) Validate() error {
	if c.MainFileRatio <= 0 || c.MainFileRatio > 1 {
		return fmt.Errorf("main_file_ratio must be in (0, 1], got %v", c.MainFileRatio)
	}

	if c.MagnetizationTimeout < 0 {
		return fmt.Errorf("magnetization_timeout must not be negative, got %d", c.MagnetizationTimeout)
	}

	if c.Demagnetize.Timeout < 0 {
		return fmt.Errorf("demagnetize.timeout must not be negative, got %d", c.Demagnetize.Timeout)
	}

	if err := match.Validate(c.IncludeFiles); err != nil {
		return fmt.Errorf("include_files: %w", err)
	}

	if err := match.Validate(c.SkipFiles); err != nil {
		return fmt.Errorf("skip_files: %w", err)
	}

	return nil
}

// StringList accepts either a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = StringList{value.Value}

		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}

		*l = items

		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

// OptionValues holds daemon options. Values may be written as strings, numbers or
// booleans in YAML and are kept in their textual form.
type OptionValues map[string]string

func (o *OptionValues) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: aria_config must be a mapping", value.Line)
	}

	values := make(OptionValues, len(value.Content)/2)

	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: option %q must be a string or a number", val.Line, key.Value)
		}

		values[key.Value] = val.Value
	}

	*o = values

	return nil
}


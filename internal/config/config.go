package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Error reports an invalid benchmark file or an unknown variant selector.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid config: %v", e.Err)
	}
	return fmt.Sprintf("invalid config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Command is an argv. In a benchmark file it is written either as a
// shell-like string or as a list of strings; no shell is involved.
type Command []string

func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		args, err := shlex.Split(node.Value)
		if err != nil {
			return errors.Wrapf(err, "parsing command %q", node.Value)
		}
		if len(args) == 0 {
			return errors.New("command must not be empty")
		}
		*c = args
	case yaml.SequenceNode:
		var args []string
		if err := node.Decode(&args); err != nil {
			return errors.Wrap(err, "command must be a list of strings")
		}
		if len(args) == 0 {
			return errors.New("command must not be empty")
		}
		*c = args
	default:
		return errors.New("command must be a string or a list of strings")
	}
	return nil
}

// Timeout is a positive duration written as seconds (5, 0.5) or as a Go
// duration string ("1m30s").
type Timeout time.Duration

func (t *Timeout) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.New("'timeout' must be a number of seconds or a duration")
	}
	var d time.Duration
	switch node.ShortTag() {
	case "!!int", "!!float":
		secs, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return errors.Wrap(err, "'timeout' must be a number of seconds")
		}
		d = time.Duration(secs * float64(time.Second))
	default:
		var err error
		d, err = time.ParseDuration(node.Value)
		if err != nil {
			return errors.Wrap(err, "'timeout' must be a number of seconds or a duration")
		}
	}
	if d <= 0 {
		return errors.New("'timeout' must be positive")
	}
	*t = Timeout(d)
	return nil
}

// Overlay holds the plan fields of a benchmark file or of one variant.
// A nil field was not written and inherits from the level below.
type Overlay struct {
	Name         *string           `yaml:"name"`
	Setup        Command           `yaml:"setup"`
	Service      Command           `yaml:"service"`
	Run          Command           `yaml:"run"`
	Teardown     Command           `yaml:"teardown"`
	Timeout      *Timeout          `yaml:"timeout"`
	Iterations   *int              `yaml:"iterations"`
	Instructions *bool             `yaml:"instructions"`
	Cachegrind   *bool             `yaml:"cachegrind"`
	StatsdPort   *int              `yaml:"statsd_port"`
	Env          map[string]string `yaml:"env"`
}

// File is a parsed benchmark file.
type File struct {
	Path     string `yaml:"-"`
	Overlay  `yaml:",inline"`
	Variants *Variants `yaml:"variants"`
}

// Load reads a JSON or YAML benchmark file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: errors.Wrap(err, "reading file")}
	}
	f, err := Parse(data)
	if err != nil {
		var cfgErr *Error
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
			return nil, cfgErr
		}
		return nil, &Error{Path: path, Err: err}
	}
	f.Path = path
	return f, nil
}

// Parse decodes benchmark file contents. JSON is accepted since it is a
// subset of YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &Error{Err: errors.Wrap(err, "parsing")}
	}
	return &f, nil
}

// VariantIDs returns the variant identifiers in declaration order, or nil
// when the file declares no variants.
func (f *File) VariantIDs() []string {
	if f.Variants == nil {
		return nil
	}
	ids := make([]string, 0, len(f.Variants.List))
	for _, v := range f.Variants.List {
		ids = append(ids, v.ID)
	}
	return ids
}

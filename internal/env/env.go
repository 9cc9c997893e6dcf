// Package env gathers the SIRUN_* environment surface and the matching
// command line flags into one Settings value.
package env

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/signalnine/sirun/internal/config"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment variables read by sirun. StatsdPort is also exported to
// every measured child.
const (
	VarName       = "SIRUN_NAME"
	VarVariant    = "SIRUN_VARIANT"
	VarNoStdio    = "SIRUN_NO_STDIO"
	VarStatsdPort = "SIRUN_STATSD_PORT"
	VarSkipSetup  = "SIRUN_SKIP_SETUP"
	VarLogLevel   = "SIRUN_LOG_LEVEL"
	VarVersion    = "GIT_COMMIT_HASH"
)

// flag name -> settings key
var flagKeys = map[string]string{
	"name":        "name",
	"variant":     "variant",
	"no-stdio":    "no_stdio",
	"statsd-port": "statsd_port",
	"skip-setup":  "skip_setup",
	"log-level":   "log_level",
}

type Settings struct {
	Name       string
	Version    string
	Variant    string
	VariantSet bool
	NoStdio    bool
	SkipSetup  bool
	LogLevel   string

	StatsdPort    int
	StatsdPortSet bool
}

// RegisterFlags adds the flags that may override the environment.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("name", "", "result name, overrides the configured name ($"+VarName+")")
	flags.String("variant", "", "run only this variant ($"+VarVariant+")")
	flags.Bool("no-stdio", false, "suppress output of the measured programs ($"+VarNoStdio+")")
	flags.Int("statsd-port", 0, "pin the statsd UDP port instead of using an ephemeral one ($"+VarStatsdPort+")")
	flags.Bool("skip-setup", false, "skip setup and teardown commands ($"+VarSkipSetup+")")
	flags.String("log-level", "info", "log level: debug, info, warning, error ($"+VarLogLevel+")")
}

// Load reads settings from the process environment and from any flags in
// the set that were registered with RegisterFlags. Changed flags win.
func Load(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("SIRUN")
	for _, key := range []string{"name", "variant", "no_stdio", "statsd_port", "skip_setup", "log_level"} {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "binding %s", key)
		}
	}
	if err := v.BindEnv("version", VarVersion); err != nil {
		return nil, errors.Wrap(err, "binding version")
	}
	v.SetDefault("log_level", "info")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "binding flag %s", name)
				}
			}
		}
	}

	s := &Settings{
		Name:       v.GetString("name"),
		Version:    v.GetString("version"),
		Variant:    v.GetString("variant"),
		VariantSet: v.IsSet("variant"),
		NoStdio:    enabled(v, "no_stdio"),
		SkipSetup:  enabled(v, "skip_setup"),
		LogLevel:   v.GetString("log_level"),
	}

	if v.IsSet("statsd_port") {
		raw := v.GetString("statsd_port")
		port, err := strconv.Atoi(raw)
		if err != nil || port < 0 || port > 65535 {
			return nil, errors.Errorf("%s must be a port number, got %q", VarStatsdPort, raw)
		}
		s.StatsdPort = port
		s.StatsdPortSet = true
	}
	return s, nil
}

// enabled treats any value other than an explicit false as on, so that
// SIRUN_NO_STDIO=1 and SIRUN_NO_STDIO=yes both work.
func enabled(v *viper.Viper, key string) bool {
	if !v.IsSet(key) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v.GetString(key))) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// Overrides converts the settings that affect plan expansion.
func (s *Settings) Overrides() config.Overrides {
	return config.Overrides{
		Name:          s.Name,
		Variant:       s.Variant,
		VariantSet:    s.VariantSet,
		StatsdPort:    s.StatsdPort,
		StatsdPortSet: s.StatsdPortSet,
	}
}

// Package logging configures grip to write to standard error so that
// standard output carries only result documents.
package logging

import (
	"strings"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
)

// Setup installs a stderr sender at the named threshold.
func Setup(name string) error {
	if strings.EqualFold(strings.TrimSpace(name), "warn") {
		name = "warning"
	}
	threshold := level.FromString(name)
	if !threshold.IsValid() {
		return errors.Errorf("unknown log level %q", name)
	}
	sender := send.MakeErrorLogger()
	sender.SetName("sirun")
	if err := sender.SetLevel(send.LevelInfo{Default: level.Info, Threshold: threshold}); err != nil {
		return errors.Wrap(err, "setting log level")
	}
	return errors.Wrap(grip.SetSender(sender), "installing log sender")
}

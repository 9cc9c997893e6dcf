package runner

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/signalnine/sirun/internal/config"
	"github.com/signalnine/sirun/internal/result"
)

// RunAll runs plans one at a time in order and passes each document to
// emit as soon as it is complete. A plan that fails to spawn is skipped
// and reported in the returned error once every plan had its turn. A
// timeout, an interrupt or an emit failure stops everything immediately.
func (r *Runner) RunAll(ctx context.Context, plans []config.Plan, emit func(*result.Document) error) error {
	catcher := grip.NewBasicCatcher()
	for _, plan := range plans {
		doc, err := r.Run(ctx, plan)
		if err != nil {
			if errors.Is(err, ErrTimeout) || ctx.Err() != nil {
				return err
			}
			grip.Error(message.WrapError(err, message.Fields{
				"message": "variant failed",
				"name":    plan.Name,
				"variant": plan.Variant,
			}))
			if plan.Variant != "" {
				err = errors.Wrapf(err, "variant %s", plan.Variant)
			}
			catcher.Add(err)
			continue
		}
		if err := emit(doc); err != nil {
			return errors.Wrap(err, "emitting result")
		}
	}
	return catcher.Resolve()
}

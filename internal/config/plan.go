package config

import (
	"time"

	"github.com/pkg/errors"
)

// Plan is a fully resolved run plan for one variant.
type Plan struct {
	Name         string
	Variant      string
	Setup        []string
	Service      []string
	Run          []string
	Teardown     []string
	Env          map[string]string
	Timeout      time.Duration
	Iterations   int
	Instructions bool
	Cachegrind   bool
	StatsdPort   int
}

// Overrides carries values that come from the environment or the command
// line rather than from the benchmark file.
type Overrides struct {
	// Name replaces any configured name when non-empty.
	Name string
	// Variant selects a single variant when VariantSet is true.
	Variant    string
	VariantSet bool
	// StatsdPort pins the receiver port when StatsdPortSet is true.
	StatsdPort    int
	StatsdPortSet bool
}

// Expand resolves the file into concrete plans, one per variant in
// declaration order, or a single plan when there are no variants.
func (f *File) Expand(o Overrides) ([]Plan, error) {
	plans, err := f.expand(o)
	if err != nil {
		return nil, &Error{Path: f.Path, Err: err}
	}
	return plans, nil
}

func (f *File) expand(o Overrides) ([]Plan, error) {
	if f.Variants == nil {
		if o.VariantSet {
			return nil, errors.Errorf("variant %s selected but no variants are declared", o.Variant)
		}
		p, err := resolve("", &f.Overlay, nil, o)
		if err != nil {
			return nil, err
		}
		return []Plan{p}, nil
	}

	if o.VariantSet {
		v, err := f.Variants.Lookup(o.Variant)
		if err != nil {
			return nil, err
		}
		p, err := resolve(v.ID, &f.Overlay, &v.Overlay, o)
		if err != nil {
			return nil, err
		}
		return []Plan{p}, nil
	}

	plans := make([]Plan, 0, len(f.Variants.List))
	for i := range f.Variants.List {
		v := &f.Variants.List[i]
		p, err := resolve(v.ID, &f.Overlay, &v.Overlay, o)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func resolve(id string, base, variant *Overlay, o Overrides) (Plan, error) {
	p := Plan{
		Variant:    id,
		Iterations: 1,
		Env:        make(map[string]string),
	}
	p.apply(base)
	if variant != nil {
		p.apply(variant)
	}
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.StatsdPortSet {
		p.StatsdPort = o.StatsdPort
	}
	if err := p.validate(); err != nil {
		if id != "" {
			return Plan{}, errors.Wrapf(err, "variant %s", id)
		}
		return Plan{}, err
	}
	return p, nil
}

func (p *Plan) apply(ov *Overlay) {
	if ov.Name != nil {
		p.Name = *ov.Name
	}
	if ov.Setup != nil {
		p.Setup = ov.Setup
	}
	if ov.Service != nil {
		p.Service = ov.Service
	}
	if ov.Run != nil {
		p.Run = ov.Run
	}
	if ov.Teardown != nil {
		p.Teardown = ov.Teardown
	}
	if ov.Timeout != nil {
		p.Timeout = time.Duration(*ov.Timeout)
	}
	if ov.Iterations != nil {
		p.Iterations = *ov.Iterations
	}
	if ov.Instructions != nil {
		p.Instructions = *ov.Instructions
	}
	if ov.Cachegrind != nil {
		p.Cachegrind = *ov.Cachegrind
	}
	if ov.StatsdPort != nil {
		p.StatsdPort = *ov.StatsdPort
	}
	for k, v := range ov.Env {
		p.Env[k] = v
	}
}

func (p *Plan) validate() error {
	if len(p.Run) == 0 {
		return errors.New("'run' must be provided")
	}
	if p.Iterations < 1 {
		return errors.New("iterations must be an integer >=1")
	}
	if p.StatsdPort < 0 || p.StatsdPort > 65535 {
		return errors.Errorf("statsd_port %d is out of range", p.StatsdPort)
	}
	return nil
}

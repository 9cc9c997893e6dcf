package result

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Iteration is the metric set of one execution of the run command.
type Iteration map[string]float64

// Document is the record emitted for one variant: every iteration it ran,
// plus the legacy top-level instruction count when cachegrind was used.
type Document struct {
	Name         string      `json:"name,omitempty"`
	Version      string      `json:"version,omitempty"`
	Variant      string      `json:"variant,omitempty"`
	Instructions *float64    `json:"instructions,omitempty"`
	Iterations   []Iteration `json:"iterations"`
}

// UnmarshalJSON accepts the variant as a name or as a numeric index; an
// index is kept in its decimal form.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	aux := struct {
		*plain
		Variant json.RawMessage `json:"variant"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	d.Variant = ""
	raw := bytes.TrimSpace(aux.Variant)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		return json.Unmarshal(raw, &d.Variant)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return errors.Errorf("variant must be a string or a number, got %s", raw)
		}
		d.Variant = n.String()
	}
	return nil
}

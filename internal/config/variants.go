package config

import (
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Variant is one named or indexed overlay on the base plan.
type Variant struct {
	ID      string
	Overlay Overlay
}

// Variants keeps overlays in declaration order. Indexed is true when the
// file used a list, in which case IDs are "0", "1", ...
type Variants struct {
	Indexed bool
	List    []Variant
}

func (v *Variants) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		v.Indexed = true
		for i, item := range node.Content {
			ov, err := decodeOverlay(item)
			if err != nil {
				return errors.Wrapf(err, "variant %d", i)
			}
			v.List = append(v.List, Variant{ID: strconv.Itoa(i), Overlay: ov})
		}
	case yaml.MappingNode:
		seen := make(map[string]bool)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if key == "" {
				return errors.New("variant names must not be empty")
			}
			if seen[key] {
				return errors.Errorf("duplicate variant %q", key)
			}
			seen[key] = true
			ov, err := decodeOverlay(node.Content[i+1])
			if err != nil {
				return errors.Wrapf(err, "variant %q", key)
			}
			v.List = append(v.List, Variant{ID: key, Overlay: ov})
		}
	default:
		return errors.New("variants must be an array or object")
	}
	if len(v.List) == 0 {
		return errors.New("variants must not be empty")
	}
	return nil
}

func decodeOverlay(node *yaml.Node) (Overlay, error) {
	var ov Overlay
	if node.Kind != yaml.MappingNode {
		return ov, errors.New("must be an object")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "variants" {
			return ov, errors.New("nested variants are not supported")
		}
	}
	if err := node.Decode(&ov); err != nil {
		return ov, err
	}
	return ov, nil
}

// Lookup finds a variant by selector. For indexed variants the selector
// must be a valid index.
func (v *Variants) Lookup(selector string) (Variant, error) {
	if v.Indexed {
		idx, err := strconv.Atoi(selector)
		if err != nil {
			return Variant{}, errors.Errorf("variant index %q is not an integer", selector)
		}
		if idx < 0 || idx >= len(v.List) {
			return Variant{}, errors.Errorf("variant index %d does not exist in array", idx)
		}
		return v.List[idx], nil
	}
	for _, variant := range v.List {
		if variant.ID == selector {
			return variant, nil
		}
	}
	return Variant{}, errors.Errorf("variant key %s does not exist in object", selector)
}

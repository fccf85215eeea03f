package builtin

import "github.com/mitchellh/mapstructure"

// marshalUnmarshal decodes a map[string]any into a typed struct pointer
// via mapstructure keyed on `json` tags, as the Registry itself does.
func marshalUnmarshal(args map[string]any, out any) (bool, error) {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: out})
	if err != nil {
		return false, err
	}
	if err := dec.Decode(args); err != nil {
		return false, err
	}
	return true, nil
}

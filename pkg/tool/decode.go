package tool

import "github.com/mitchellh/mapstructure"

// decodeArgs decodes a tool call's loosely-typed params map into a
// typed request struct, matching the field names generateSchema
// advertised for the same struct.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}

package connection

import "encoding/json"

// Codec converts between wire frames and structured values. One frame
// carries exactly one value.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(frame []byte) (any, error)
}

// JSONCodec is the default codec. Decoded values are the generic
// encoding/json forms: map[string]any, []any, string, float64, bool, nil.
type JSONCodec struct{}

// Encode marshals v as JSON.
func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals a single JSON value. Empty frames and trailing data
// are errors.
func (JSONCodec) Decode(frame []byte) (any, error) {
	var v any
	if err := json.Unmarshal(frame, &v); err != nil {
		return nil, err
	}
	return v, nil
}

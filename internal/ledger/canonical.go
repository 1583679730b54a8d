package ledger

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Canonicalize encodes v as compact JSON with object keys sorted and number
// literals preserved, so equal payloads always produce equal bytes.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

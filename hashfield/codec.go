package hashfield

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decodeHash parses the stored bytes of a hash key. Anything other than a
// JSON object is ErrWrongType.
func decodeHash(data []byte) (Hash, error) {
	var x any
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongType, err)
	}
	obj, ok := x.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: stored value is %T", ErrWrongType, x)
	}
	h := make(Hash, len(obj))
	for field, raw := range obj {
		v, err := FromInterface(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrWrongType, field, err)
		}
		h[field] = v
	}
	return h, nil
}

func encodeHash(h Hash) ([]byte, error) {
	if h == nil {
		h = Hash{}
	}
	data, err := json.Marshal(h.Interface())
	if err != nil {
		return nil, fmt.Errorf("hashfield: encode hash: %w", err)
	}
	return data, nil
}

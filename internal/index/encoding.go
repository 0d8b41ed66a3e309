package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jward/grove/internal/outline"
)

// ErrBadSnapshot is returned when a persisted snapshot cannot be decoded.
var ErrBadSnapshot = errors.New("index: malformed snapshot")

// Encode flattens symbols into the persisted form: a JSON array holding,
// per name in sorted order, the name, the number of definition kinds, the
// definition kinds and then the usage kinds.
//
//	["Foo",1,12,12,"bar",0,13]
func Encode(symbols Symbols) ([]byte, error) {
	names := make([]string, 0, len(symbols))
	for name := range symbols {
		names = append(names, name)
	}
	slices.Sort(names)

	flat := make([]any, 0, len(names)*4)
	for _, name := range names {
		info := symbols[name]
		defs := info.Definitions.Kinds()
		flat = append(flat, name, len(defs))
		for _, k := range defs {
			flat = append(flat, int(k))
		}
		for _, k := range info.Usages.Kinds() {
			flat = append(flat, int(k))
		}
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("index: encode snapshot: %w", err)
	}
	return data, nil
}

// Decode reverses Encode.
func Decode(data []byte) (Symbols, error) {
	var flat []json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	out := make(Symbols)
	for i := 0; i < len(flat); {
		var name string
		if err := json.Unmarshal(flat[i], &name); err != nil {
			return nil, fmt.Errorf("%w: element %d is not a name", ErrBadSnapshot, i)
		}
		i++
		if i >= len(flat) {
			return nil, fmt.Errorf("%w: %q has no definition count", ErrBadSnapshot, name)
		}
		var defCount int
		if err := json.Unmarshal(flat[i], &defCount); err != nil || defCount < 0 {
			return nil, fmt.Errorf("%w: %q has a bad definition count", ErrBadSnapshot, name)
		}
		i++

		var info SymbolInfo
		for n := 0; i < len(flat); n++ {
			var k int
			if err := json.Unmarshal(flat[i], &k); err != nil {
				break
			}
			if n < defCount {
				info.Definitions = info.Definitions.Add(outline.Kind(k))
			} else {
				info.Usages = info.Usages.Add(outline.Kind(k))
			}
			i++
		}
		out[name] = info
	}
	return out, nil
}

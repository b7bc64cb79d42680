package vision

import (
	"errors"
	"fmt"
)

var ErrBackendUnavailable = errors.New("vision backend not compiled in; rebuild with -tags gocv")

// Select returns the backend named by name: "auto", "native" or "opencv".
func Select(name string) (Primitives, error) {
	switch name {
	case "", "auto":
		return Default(), nil
	case "native":
		return NewNative(), nil
	case "opencv":
		if !Available {
			return nil, ErrBackendUnavailable
		}
		return Default(), nil
	default:
		return nil, fmt.Errorf("unknown vision backend %q", name)
	}
}

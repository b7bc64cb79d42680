package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"maze-relay-go/internal/rle"
	"maze-relay-go/internal/types"
)

var ErrUnsupportedValue = errors.New("unsupported CBOR value")

// DecodeMessage converts one socket payload into a JSON producer message.
// JSON objects pass through untouched. CBOR maps are transcoded; a maze may
// carry its raster as a typed "mask" array instead of run-length data.
func DecodeMessage(msg []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if _, err := types.Classify(trimmed); err != nil {
			return nil, err
		}
		return trimmed, nil
	}

	var payload any
	if err := cbor.Unmarshal(msg, &payload); err != nil {
		return nil, fmt.Errorf("cbor decode: %w", err)
	}
	root, ok := payload.(map[any]any)
	if !ok {
		return nil, fmt.Errorf("cbor payload is %T, want map", payload)
	}

	if t, _ := root["type"].(string); t == types.TypeMazeData {
		if mask, ok := root["mask"]; ok {
			img, err := decodeMask(mask)
			if err != nil {
				return nil, fmt.Errorf("maze mask: %w", err)
			}
			return json.Marshal(types.MazeData{
				Type:    types.TypeMazeData,
				Width:   img.Rect.Dx(),
				Height:  img.Rect.Dy(),
				RLEData: rle.Encode(img),
			})
		}
	}

	normalized, err := NormalizeJSONValue(root)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	if _, err := types.Classify(out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeJSONValue rewrites decoded CBOR into values encoding/json accepts.
func NormalizeJSONValue(v any) (any, error) {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			n, err := NormalizeJSONValue(item)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := NormalizeJSONValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := NormalizeJSONValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case cbor.Tag:
		return nil, fmt.Errorf("%w: tag %d", ErrUnsupportedValue, val.Number)
	case []byte:
		return nil, fmt.Errorf("%w: byte string", ErrUnsupportedValue)
	default:
		return val, nil
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

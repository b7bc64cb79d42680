package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// RFC 8746 tags.
const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint16LE      = 69
	tagFloat32LE     = 85
)

// decodeMask turns a tag-40 [rows, cols] typed array into a raster. Wider
// sample types are clamped into 0..255.
func decodeMask(value any) (*image.Gray, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return nil, fmt.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return nil, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return nil, fmt.Errorf("invalid multidim dimensions")
	}

	rows, err := toInt(dimsRaw[0])
	if err != nil {
		return nil, err
	}
	cols, err := toInt(dimsRaw[1])
	if err != nil {
		return nil, err
	}
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("invalid mask size %dx%d", cols, rows)
	}

	pix, err := decodeTypedArray(items[1])
	if err != nil {
		return nil, err
	}
	if len(pix) != rows*cols {
		return nil, errors.New("dimension mismatch")
	}
	return &image.Gray{Pix: pix, Stride: cols, Rect: image.Rect(0, 0, cols, rows)}, nil
}

func decodeTypedArray(value any) ([]uint8, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, fmt.Errorf("expected typed array tag")
	}
	data, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("unsupported typed array content %T", tag.Content)
	}

	switch tag.Number {
	case tagUint8:
		return data, nil
	case tagUint16LE:
		out := make([]uint8, len(data)/2)
		for i := range out {
			v := binary.LittleEndian.Uint16(data[i*2 : i*2+2])
			if v > 255 {
				v = 255
			}
			out[i] = uint8(v)
		}
		return out, nil
	case tagFloat32LE:
		out := make([]uint8, len(data)/4)
		for i := range out {
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4])))
			if math.IsNaN(v) {
				v = 0
			}
			out[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

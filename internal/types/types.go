package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"maze-relay-go/internal/rle"
)

const TypeMazeData = "mazeData"

// Kind is the application-level class of a producer message.
type Kind int

const (
	KindUnknown Kind = iota
	KindHello
	KindMaze
	KindEntities
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindMaze:
		return "maze"
	case KindEntities:
		return "entities"
	default:
		return "unknown"
	}
}

var ErrNotObject = errors.New("message is not a JSON object")

// MazeData carries one run-length encoded maze mask.
type MazeData struct {
	Type    string    `json:"type"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	RLEData []rle.Run `json:"rleData"`
}

// CarPosition is a raw sensor position. Orientation is in degrees and optional.
type CarPosition struct {
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Orientation *float64 `json:"orientation,omitempty"`
}

type PathPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EntityUpdate holds positions and full path replacements keyed by car color.
type EntityUpdate struct {
	Cars  map[string]CarPosition `json:"cars,omitempty"`
	Paths map[string][]PathPoint `json:"paths,omitempty"`
}

// Rejection is sent to a second producer before its connection is closed.
type Rejection struct {
	Error string `json:"error"`
}

// Hello optionally opens a producer session.
type Hello struct {
	Role string `json:"role"`
}

type envelope struct {
	Type  string          `json:"type"`
	Role  string          `json:"role"`
	Cars  json.RawMessage `json:"cars"`
	Paths json.RawMessage `json:"paths"`
}

// Classify parses raw just far enough to tell what it is. Any error means the
// payload is not a discrete application message and must be dropped.
func Classify(raw []byte) (Kind, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return KindUnknown, ErrNotObject
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return KindUnknown, err
	}
	switch {
	case env.Type == TypeMazeData:
		return KindMaze, nil
	case len(env.Cars) > 0 || len(env.Paths) > 0:
		return KindEntities, nil
	case env.Role != "":
		return KindHello, nil
	default:
		return KindUnknown, nil
	}
}

// Describe summarizes a message in one line without its bulk payload.
func Describe(raw []byte) string {
	kind, err := Classify(raw)
	if err != nil {
		return fmt.Sprintf("malformed (%d bytes): %v", len(raw), err)
	}
	switch kind {
	case KindMaze:
		var md MazeData
		if err := json.Unmarshal(raw, &md); err != nil {
			return fmt.Sprintf("maze: %v", err)
		}
		return fmt.Sprintf("maze %dx%d runs=%d", md.Width, md.Height, len(md.RLEData))
	case KindEntities:
		var upd EntityUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			return fmt.Sprintf("entities: %v", err)
		}
		keys := make([]string, 0, len(upd.Cars))
		for k := range upd.Cars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		points := 0
		for _, p := range upd.Paths {
			points += len(p)
		}
		return fmt.Sprintf("entities cars=%v paths=%d points=%d", keys, len(upd.Paths), points)
	case KindHello:
		var h Hello
		_ = json.Unmarshal(raw, &h)
		return "hello role=" + h.Role
	default:
		return fmt.Sprintf("unknown object (%d bytes)", len(raw))
	}
}

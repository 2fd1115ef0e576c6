package base

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// WhenFull defines what a buffer stage does with new items when it's at capacity
type WhenFull int

// WhenFull values
const (
	// WhenFullBlock waits for capacity, applying backpressure to producers
	WhenFullBlock WhenFull = iota

	// WhenFullDropNewest drops the item being sent and counts it as intentionally dropped
	WhenFullDropNewest

	// WhenFullOverflow forwards the item to the next stage
	WhenFullOverflow
)

// String returns the name used in configuration
func (wf WhenFull) String() string {
	switch wf {
	case WhenFullBlock:
		return "block"
	case WhenFullDropNewest:
		return "dropNewest"
	case WhenFullOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("WhenFull(%d)", int(wf))
	}
}

// ParseWhenFull parses the name of a WhenFull value
func ParseWhenFull(name string) (WhenFull, error) {
	switch name {
	case "", "block":
		return WhenFullBlock, nil
	case "dropNewest", "drop_newest":
		return WhenFullDropNewest, nil
	case "overflow":
		return WhenFullOverflow, nil
	default:
		return WhenFullBlock, fmt.Errorf("unknown whenFull value '%s'", name)
	}
}

// MarshalYAML exports the name
func (wf WhenFull) MarshalYAML() (interface{}, error) {
	return wf.String(), nil
}

// UnmarshalYAML parses the name
func (wf *WhenFull) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseWhenFull(value.Value)
	if err != nil {
		return fmt.Errorf("yaml line %d:%d: %w", value.Line, value.Column, err)
	}
	*wf = parsed
	return nil
}

package model

import (
	"encoding/json"
	"fmt"
)

// Confidence classifies a cell purely by its sample count.
type Confidence int

const (
	Unreliable Confidence = iota // n < 10
	Weak                         // 10 <= n < 30
	Moderate                     // 30 <= n < 100
	Strong                       // n >= 100
)

// Confidences lists every level from least to most confident
var Confidences = [...]Confidence{Unreliable, Weak, Moderate, Strong}

var confidenceNames = [...]string{"Unreliable", "Weak", "Moderate", "Strong"}

// ConfidenceFromSamples applies the monotonic sample-count floors.
func ConfidenceFromSamples(n int) Confidence {
	switch {
	case n < 10:
		return Unreliable
	case n < 30:
		return Weak
	case n < 100:
		return Moderate
	default:
		return Strong
	}
}

func (c Confidence) String() string {
	if c < Unreliable || c > Strong {
		return fmt.Sprintf("Confidence(%d)", int(c))
	}
	return confidenceNames[c]
}

// ParseConfidence accepts the names produced by String.
func ParseConfidence(s string) (Confidence, error) {
	for i, name := range confidenceNames {
		if name == s {
			return Confidence(i), nil
		}
	}
	return Unreliable, fmt.Errorf("unknown confidence level %q", s)
}

// MarshalJSON writes the level by name, the format matrix files use
func (c Confidence) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON reads the level by name
func (c *Confidence) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("confidence: %w", err)
	}
	parsed, err := ParseConfidence(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ConfidenceTable maps every level to a value. Arrays make the mapping exhaustive.
type ConfidenceTable[T any] [len(confidenceNames)]T

// Get returns the value for a level; out-of-range levels read as Unreliable
func (t ConfidenceTable[T]) Get(c Confidence) T {
	if c < Unreliable || c > Strong {
		c = Unreliable
	}
	return t[c]
}

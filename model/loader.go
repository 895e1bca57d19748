package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// DecodeMatrix parses a matrix document and validates it. Confidence is
// re-derived from counts so a hand-edited label can never upgrade a cell.
func DecodeMatrix(data []byte) (*Matrix, error) {
	var m Matrix
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidMatrix, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	for t := range m.Cells {
		for i := range m.Cells[t] {
			c := &m.Cells[t][i]
			c.TimeBucket = t
			c.DeltaBucket = DeltaBucketMin + i
			c.Confidence = ConfidenceFromSamples(c.Total())
		}
	}
	return &m, nil
}

// LoadMatrixFile reads the terminal probability matrix from disk.
func LoadMatrixFile(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matrix %s: %w", path, err)
	}
	m, err := DecodeMatrix(data)
	if err != nil {
		return nil, fmt.Errorf("load matrix %s: %w", path, err)
	}
	return m, nil
}

// LoadCrossingFile reads the optional price-crossing matrix
func LoadCrossingFile(path string) (*CrossingMatrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crossing matrix %s: %w", path, err)
	}
	var m CrossingMatrix
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode crossing matrix %s: %v", ErrInvalidMatrix, path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("load crossing matrix %s: %w", path, err)
	}
	return &m, nil
}

// LoadPassageFile reads the optional first-passage matrix
func LoadPassageFile(path string) (*PassageMatrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read passage matrix %s: %w", path, err)
	}
	var m PassageMatrix
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode passage matrix %s: %v", ErrInvalidMatrix, path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("load passage matrix %s: %w", path, err)
	}
	return &m, nil
}

// Encode serializes the matrix in the on-disk format
func (m *Matrix) Encode() ([]byte, error) {
	return json.Marshal(m)
}

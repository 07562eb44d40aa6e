package align

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FeatureDim is the width of a feature row: 3-D position followed by a
// 3-D unit normal.
const FeatureDim = 6

// Sentinel errors for the two failure categories of the pipeline. Callers
// can test with errors.Is; every core function wraps one of these with
// context.
var (
	// ErrInvalidArgument reports malformed shapes or out-of-range parameters.
	ErrInvalidArgument = errors.New("align: invalid argument")
	// ErrDegenerate reports inputs on which the estimation problem has no
	// well-defined answer (zero weight sums, undefined variance, ambiguous
	// dominant eigenvalue).
	ErrDegenerate = errors.New("align: degenerate state")
)

// Cloud is one surface sample set: an N×6 feature matrix (position‖normal
// per row) and a parallel validity flag per row, 1.0 for interior geometry
// and 0.0 for boundary or otherwise untrusted elements.
type Cloud struct {
	Features *mat.Dense
	Flags    []float64
}

// Len returns the number of elements in the cloud.
func (c *Cloud) Len() int {
	if c.Features == nil {
		return 0
	}
	r, _ := c.Features.Dims()
	return r
}

// Positions returns the N×3 position block of the feature matrix. The
// returned matrix is a view: writes through it mutate the cloud.
func (c *Cloud) Positions() *mat.Dense {
	return c.Features.Slice(0, c.Len(), 0, 3).(*mat.Dense)
}

// Normals returns the N×3 normal block of the feature matrix, as a view.
func (c *Cloud) Normals() *mat.Dense {
	return c.Features.Slice(0, c.Len(), 3, FeatureDim).(*mat.Dense)
}

// Clone returns a deep copy, so the registration loop can evolve positions
// without touching the caller's data.
func (c *Cloud) Clone() *Cloud {
	out := &Cloud{
		Features: mat.DenseCopyOf(c.Features),
		Flags:    make([]float64, len(c.Flags)),
	}
	copy(out.Flags, c.Flags)
	return out
}

// CloudPayload is the JSON wire form of a cloud, as published on MQTT cloud
// topics or stored in files for the CLI.
type CloudPayload struct {
	ID        string       `json:"id"`
	Positions [][3]float64 `json:"positions"`
	Normals   [][3]float64 `json:"normals"`
	Flags     []float64    `json:"flags,omitempty"`
}

// ParseCloud decodes a JSON cloud payload and converts it to a Cloud.
func ParseCloud(data []byte) (string, *Cloud, error) {
	var payload CloudPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", nil, fmt.Errorf("parsing cloud JSON: %w", err)
	}
	cloud, err := payload.Cloud()
	if err != nil {
		return "", nil, err
	}
	return payload.ID, cloud, nil
}

// Cloud validates the payload and assembles the N×6 feature matrix. Missing
// flags default to 1.0 (all elements trusted).
func (p *CloudPayload) Cloud() (*Cloud, error) {
	n := len(p.Positions)
	if n == 0 {
		return nil, fmt.Errorf("%w: cloud %q has no positions", ErrInvalidArgument, p.ID)
	}
	if len(p.Normals) != n {
		return nil, fmt.Errorf("%w: cloud %q has %d normals for %d positions",
			ErrInvalidArgument, p.ID, len(p.Normals), n)
	}
	if p.Flags != nil && len(p.Flags) != n {
		return nil, fmt.Errorf("%w: cloud %q has %d flags for %d positions",
			ErrInvalidArgument, p.ID, len(p.Flags), n)
	}

	features := mat.NewDense(n, FeatureDim, nil)
	for i := 0; i < n; i++ {
		features.Set(i, 0, p.Positions[i][0])
		features.Set(i, 1, p.Positions[i][1])
		features.Set(i, 2, p.Positions[i][2])
		features.Set(i, 3, p.Normals[i][0])
		features.Set(i, 4, p.Normals[i][1])
		features.Set(i, 5, p.Normals[i][2])
	}

	flags := make([]float64, n)
	if p.Flags != nil {
		copy(flags, p.Flags)
	} else {
		for i := range flags {
			flags[i] = 1.0
		}
	}

	return &Cloud{Features: features, Flags: flags}, nil
}

// Payload converts a cloud back to its wire form.
func (c *Cloud) Payload(id string) *CloudPayload {
	n := c.Len()
	payload := &CloudPayload{
		ID:        id,
		Positions: make([][3]float64, n),
		Normals:   make([][3]float64, n),
		Flags:     make([]float64, n),
	}
	for i := 0; i < n; i++ {
		payload.Positions[i] = [3]float64{c.Features.At(i, 0), c.Features.At(i, 1), c.Features.At(i, 2)}
		payload.Normals[i] = [3]float64{c.Features.At(i, 3), c.Features.At(i, 4), c.Features.At(i, 5)}
	}
	if c.Flags != nil {
		copy(payload.Flags, c.Flags)
	} else {
		for i := range payload.Flags {
			payload.Flags[i] = 1.0
		}
	}
	return payload
}

// Package curve reduces densely sampled animation channels to a minimal set
// of keyframes whose linear interpolation stays within a bounded error of the
// original samples.
package curve

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrInvalidRange is returned when an index or frame range is malformed.
	ErrInvalidRange = errors.New("invalid range")

	// ErrEmptyCurve is returned when a curve without samples is evaluated.
	ErrEmptyCurve = errors.New("empty curve")
)

// Sample is the value of a channel at a specific frame
type Sample struct {
	Frame int     `json:"frame" yaml:"frame"`
	Value float64 `json:"value" yaml:"value"`
	// Keyed samples are never removed by optimization.
	Keyed bool `json:"keyed,omitempty" yaml:"keyed,omitempty"`
}

// Key returns a keyed copy of the sample
func (s Sample) Key() Sample {
	s.Keyed = true
	return s
}

// SlopeTo returns the slope of the line from s to other
func (s Sample) SlopeTo(other Sample) float64 {
	return (other.Value - s.Value) / float64(other.Frame-s.Frame)
}

func (s Sample) String() string {
	if s.Keyed {
		return fmt.Sprintf("%3d # %f (key)", s.Frame, s.Value)
	}
	return fmt.Sprintf("%3d - %f", s.Frame, s.Value)
}

// Curve is the sampled history of one channel, sorted by frame
type Curve struct {
	Samples []Sample `json:"samples" yaml:"samples"`
}

// New creates a curve from samples. The slice is copied.
func New(samples []Sample) Curve {
	out := make([]Sample, len(samples))
	copy(out, samples)
	return Curve{Samples: out}
}

// Len returns the number of samples in the curve
func (c Curve) Len() int {
	return len(c.Samples)
}

// Clone returns a copy of the curve that shares no memory with c
func (c Curve) Clone() Curve {
	if c.Samples == nil {
		return Curve{}
	}
	return New(c.Samples)
}

// ValueRange returns the minimum and maximum sampled values.
// Both are zero for an empty curve.
func (c Curve) ValueRange() (lo, hi float64) {
	if len(c.Samples) == 0 {
		return 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range c.Samples {
		lo = math.Min(lo, s.Value)
		hi = math.Max(hi, s.Value)
	}
	return lo, hi
}

// MaximumError returns the largest absolute deviation of the samples strictly
// between start and end from the line connecting samples[start] and
// samples[end].
func (c Curve) MaximumError(start, end int) (float64, error) {
	if start > end {
		return 0, fmt.Errorf("%w: start index %d is > end index %d", ErrInvalidRange, start, end)
	}
	if start < 0 || end >= len(c.Samples) {
		return 0, fmt.Errorf("%w: [%d, %d] outside curve of %d samples", ErrInvalidRange, start, end, len(c.Samples))
	}
	return c.maximumError(start, end), nil
}

// maximumError is MaximumError without bounds checks.
func (c Curve) maximumError(start, end int) float64 {
	if start+1 >= end {
		return 0
	}
	first := c.Samples[start]
	slope := first.SlopeTo(c.Samples[end])

	var worst float64
	for _, s := range c.Samples[start+1 : end] {
		expected := first.Value + float64(s.Frame-first.Frame)*slope
		worst = math.Max(worst, math.Abs(s.Value-expected))
	}
	return worst
}

// Evaluate linearly interpolates the curve at frame. Frames outside the curve
// clamp to the first or last sample.
func (c Curve) Evaluate(frame float64) (float64, error) {
	n := len(c.Samples)
	if n == 0 {
		return 0, ErrEmptyCurve
	}
	if math.IsNaN(frame) {
		return 0, fmt.Errorf("%w: frame is NaN", ErrInvalidRange)
	}
	if frame <= float64(c.Samples[0].Frame) {
		return c.Samples[0].Value, nil
	}
	if frame >= float64(c.Samples[n-1].Frame) {
		return c.Samples[n-1].Value, nil
	}

	i := sort.Search(n, func(i int) bool { return float64(c.Samples[i].Frame) >= frame })
	ceil := c.Samples[i]
	if float64(ceil.Frame) == frame {
		return ceil.Value, nil
	}
	floor := c.Samples[i-1]
	t := (frame - float64(floor.Frame)) / float64(ceil.Frame-floor.Frame)
	return floor.Value + (ceil.Value-floor.Value)*t, nil
}

// Frames returns the frame of every sample in order
func (c Curve) Frames() []int {
	frames := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		frames[i] = s.Frame
	}
	return frames
}

package types

import "github.com/vjranagit/keyframes/pkg/curve"

// Clip is the fully sampled history of one animation clip
type Clip struct {
	Name string `json:"name"`
	// Start and End bound the closed frame range the clip was sampled over.
	Start    int           `json:"start"`
	End      int           `json:"end"`
	Entities []EntityTrack `json:"entities"`
}

// EntityTrack holds the per-channel samples of one animated entity
type EntityTrack struct {
	Name     string                    `json:"name"`
	Channels map[string][]curve.Sample `json:"channels"`
}

// ChannelCurve is one reduced channel of a curve set
type ChannelCurve struct {
	Entity  string         `json:"entity"`
	Channel string         `json:"channel"`
	Samples []curve.Sample `json:"samples"`
}

// CurveSetResponse is the wire form of an optimized clip
type CurveSetResponse struct {
	Clip     string         `json:"clip"`
	Channels []ChannelCurve `json:"channels"`
	Stats    *BuildStats    `json:"stats,omitempty"`
}

// BuildStats summarizes a curve set build
type BuildStats struct {
	Channels        int `json:"channels"`
	OmittedChannels int `json:"omitted_channels"`
	InputSamples    int `json:"input_samples"`
	OutputSamples   int `json:"output_samples"`
}

// Ratio returns the fraction of input samples kept
func (s BuildStats) Ratio() float64 {
	if s.InputSamples == 0 {
		return 0
	}
	return float64(s.OutputSamples) / float64(s.InputSamples)
}

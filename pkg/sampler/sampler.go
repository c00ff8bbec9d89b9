// Package sampler materializes animation clips from a live, frame-stepped
// source into immutable per-channel sample sequences.
package sampler

import (
	"context"
	"fmt"

	"github.com/vjranagit/keyframes/pkg/curve"
	"github.com/vjranagit/keyframes/pkg/types"
)

// Sampler evaluates the channels of an entity at a frame
type Sampler interface {
	Sample(ctx context.Context, entity string, frame int) (map[string]float64, error)
}

// SamplerFunc adapts a function to the Sampler interface
type SamplerFunc func(ctx context.Context, entity string, frame int) (map[string]float64, error)

// Sample implements Sampler
func (f SamplerFunc) Sample(ctx context.Context, entity string, frame int) (map[string]float64, error) {
	return f(ctx, entity, frame)
}

// Record samples every entity once per frame over the closed range
// [start, end] and returns the resulting clip. Frames are visited in order and
// all entities are sampled at a frame before moving to the next one.
func Record(ctx context.Context, s Sampler, name string, entities []string, start, end int) (*types.Clip, error) {
	if start > end {
		return nil, fmt.Errorf("%w: start frame %d is after end frame %d", curve.ErrInvalidRange, start, end)
	}

	frames := end - start + 1
	tracks := make([]types.EntityTrack, len(entities))
	for i, entity := range entities {
		tracks[i] = types.EntityTrack{
			Name:     entity,
			Channels: make(map[string][]curve.Sample),
		}
	}

	for frame := start; frame <= end; frame++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range tracks {
			track := &tracks[i]
			values, err := s.Sample(ctx, track.Name, frame)
			if err != nil {
				return nil, fmt.Errorf("failed to sample %s at frame %d: %w", track.Name, frame, err)
			}
			for channel, v := range values {
				samples := track.Channels[channel]
				if samples == nil {
					samples = make([]curve.Sample, 0, frames)
				}
				track.Channels[channel] = append(samples, curve.Sample{Frame: frame, Value: v})
			}
		}
	}

	return &types.Clip{
		Name:     name,
		Start:    start,
		End:      end,
		Entities: tracks,
	}, nil
}

// Transform is a rest-pose-relative transform that has already been
// decomposed by the host application.
type Transform struct {
	Translation [3]float64
	// Rotation is a unit quaternion in w, x, y, z order.
	Rotation [4]float64
}

// Identity is the rest pose
var Identity = Transform{Rotation: [4]float64{1, 0, 0, 0}}

// Channels flattens t into the bone channel names used by curveset.BoneChannels
func (t Transform) Channels() map[string]float64 {
	return map[string]float64{
		"tx": t.Translation[0],
		"ty": t.Translation[1],
		"tz": t.Translation[2],
		"rw": t.Rotation[0],
		"rx": t.Rotation[1],
		"ry": t.Rotation[2],
		"rz": t.Rotation[3],
	}
}

// TransformFunc returns the decomposed transform of an entity at a frame
type TransformFunc func(ctx context.Context, entity string, frame int) (Transform, error)

// Sample implements Sampler
func (f TransformFunc) Sample(ctx context.Context, entity string, frame int) (map[string]float64, error) {
	t, err := f(ctx, entity, frame)
	if err != nil {
		return nil, err
	}
	return t.Channels(), nil
}

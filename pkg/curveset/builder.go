// Package curveset turns the sampled channels of an animation clip into a set
// of optimized curves, one per channel that actually moves.
package curveset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/keyframes/pkg/curve"
	"github.com/vjranagit/keyframes/pkg/types"
)

var (
	// ErrUnknownChannel is returned for a channel name missing from the
	// builder's channel set.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrDuplicateFrame is returned when a channel has two samples at the
	// same frame.
	ErrDuplicateFrame = errors.New("duplicate frame")
)

// CurveSet maps each animated channel to its optimized curve
type CurveSet map[ChannelID]curve.Curve

// IDs returns the channel ids of the set sorted by entity, then channel
func (s CurveSet) IDs() []ChannelID {
	ids := make([]ChannelID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Entity != ids[j].Entity {
			return ids[i].Entity < ids[j].Entity
		}
		return ids[i].Channel < ids[j].Channel
	})
	return ids
}

// Entities returns the sorted, distinct entity names of the set
func (s CurveSet) Entities() []string {
	var entities []string
	for _, id := range s.IDs() {
		if n := len(entities); n == 0 || entities[n-1] != id.Entity {
			entities = append(entities, id.Entity)
		}
	}
	return entities
}

// Channels returns the set in its wire form, in IDs order
func (s CurveSet) Channels() []types.ChannelCurve {
	out := make([]types.ChannelCurve, 0, len(s))
	for _, id := range s.IDs() {
		out = append(out, types.ChannelCurve{
			Entity:  id.Entity,
			Channel: id.Channel,
			Samples: s[id].Samples,
		})
	}
	return out
}

// FromChannels rebuilds a curve set from its wire form
func FromChannels(channels []types.ChannelCurve) CurveSet {
	set := make(CurveSet, len(channels))
	for _, ch := range channels {
		set[ChannelID{Entity: ch.Entity, Channel: ch.Channel}] = curve.New(ch.Samples)
	}
	return set
}

// Config configures a Builder
type Config struct {
	// Channels lists the known channels and their defaults (default: BoneChannels).
	Channels ChannelSet

	// Optimizer holds the curve tolerances (default: curve.DefaultOptions).
	Optimizer curve.Options

	// Workers bounds how many channels are optimized concurrently (default: 1).
	Workers int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Channels == nil {
		c.Channels = BoneChannels
	}
	if c.Optimizer == (curve.Options{}) {
		c.Optimizer = curve.DefaultOptions
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Builder builds curve sets from sampled clips
type Builder struct {
	cfg Config
}

// NewBuilder creates a new builder
func NewBuilder(cfg Config) *Builder {
	cfg.defaults()
	return &Builder{cfg: cfg}
}

type channelJob struct {
	id       ChannelID
	samples  curve.Curve
	fallback float64
}

// Build optimizes every channel of clip that deviates from its default value.
// Channels whose samples all sit at the default are omitted from the result.
func (b *Builder) Build(ctx context.Context, clip *types.Clip) (CurveSet, types.BuildStats, error) {
	var stats types.BuildStats

	jobs, err := b.collect(clip)
	if err != nil {
		return nil, stats, err
	}

	set := make(CurveSet, len(jobs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)

	for _, job := range jobs {
		stats.InputSamples += job.samples.Len()
		if atDefault(job.samples, job.fallback) {
			stats.OmittedChannels++
			b.cfg.Logger.Debug("omitting channel at default", "clip", clip.Name, "channel", job.id.String())
			continue
		}

		job := job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			optimized := b.cfg.Optimizer.Optimize(job.samples)

			mu.Lock()
			set[job.id] = optimized
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, fmt.Errorf("failed to optimize clip %q: %w", clip.Name, err)
	}

	for _, c := range set {
		stats.OutputSamples += c.Len()
	}
	stats.Channels = len(set)

	b.cfg.Logger.Info("built curve set",
		"clip", clip.Name,
		"channels", stats.Channels,
		"omitted", stats.OmittedChannels,
		"input_samples", stats.InputSamples,
		"output_samples", stats.OutputSamples,
	)

	return set, stats, nil
}

// collect assembles one frame-ordered curve per entity channel.
func (b *Builder) collect(clip *types.Clip) ([]channelJob, error) {
	var jobs []channelJob
	for _, entity := range clip.Entities {
		names := make([]string, 0, len(entity.Channels))
		for name := range entity.Channels {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			id := ChannelID{Entity: entity.Name, Channel: name}
			fallback, ok := b.cfg.Channels[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
			}

			c := curve.New(entity.Channels[name])
			sort.SliceStable(c.Samples, func(i, j int) bool {
				return c.Samples[i].Frame < c.Samples[j].Frame
			})
			for i := 1; i < len(c.Samples); i++ {
				if c.Samples[i].Frame == c.Samples[i-1].Frame {
					return nil, fmt.Errorf("%w: %s at frame %d", ErrDuplicateFrame, id, c.Samples[i].Frame)
				}
			}

			jobs = append(jobs, channelJob{id: id, samples: c, fallback: fallback})
		}
	}
	return jobs, nil
}

// atDefault reports whether every sample of c is close to value.
func atDefault(c curve.Curve, value float64) bool {
	for _, s := range c.Samples {
		if !isClose(s.Value, value, Precision) {
			return false
		}
	}
	return true
}

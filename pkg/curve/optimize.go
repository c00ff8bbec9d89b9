package curve

// Options holds the tolerances used by the optimizer
type Options struct {
	// Precision is the absolute tolerance of the first, near-exact pass.
	Precision float64 `json:"precision" yaml:"precision"`

	// ToleranceFactor scales the curve's value range into the tolerance of
	// the second pass.
	ToleranceFactor float64 `json:"tolerance_factor" yaml:"tolerance_factor"`
}

// DefaultOptions are the tolerances exporters must agree on for compatible
// output: 1e-5 for the exact pass and 1% of the value range for the coarse one.
var DefaultOptions = Options{
	Precision:       1e-5,
	ToleranceFactor: 0.01,
}

// Optimize reduces c using DefaultOptions
func Optimize(c Curve) Curve {
	return DefaultOptions.Optimize(c)
}

// Optimize returns a reduced copy of c. Linearly interpolating the result never
// deviates from c by more than the tolerance of the pass that removed a sample.
//
// Curves of zero, one or two samples are already minimal and are returned as
// an equal copy. Otherwise the first and last samples are keyed, collinear runs
// are collapsed at Precision, and the result is approximated again at
// ToleranceFactor times the curve's value range.
func (o Options) Optimize(c Curve) Curve {
	if len(c.Samples) <= 2 {
		return c.Clone()
	}

	lo, hi := c.ValueRange()
	tolerance := (hi - lo) * o.ToleranceFactor

	out := c.Clone()
	last := len(out.Samples) - 1
	out.Samples[0] = out.Samples[0].Key()
	out.Samples[last] = out.Samples[last].Key()

	out = out.approximate(o.Precision)
	return out.approximate(tolerance)
}

// approximate drops every sample that lies within tolerance of the line
// spanning the surrounding retained samples.
//
// The sweep keeps a run open from the latest retained sample and extends it
// one sample at a time. A sample is retained when it is keyed or when
// extending the run past it would exceed tolerance. When a retained sample
// closes a run that skipped samples, both ends of that run are keyed so later
// passes cannot optimize the approximation itself away. The last sample is
// always appended as is.
func (c Curve) approximate(tolerance float64) Curve {
	n := len(c.Samples)
	if n <= 2 {
		return c.Clone()
	}

	latest := 0
	out := make([]Sample, 1, n)
	out[0] = c.Samples[0]
	for i := 1; i < n-1; i++ {
		s := c.Samples[i]
		if !s.Keyed && c.maximumError(latest, i+1) <= tolerance {
			continue
		}
		if latest < i-1 {
			out[len(out)-1] = out[len(out)-1].Key()
			s = s.Key()
		}
		out = append(out, s)
		latest = i
	}
	out = append(out, c.Samples[n-1])

	return Curve{Samples: out}
}

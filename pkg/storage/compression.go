package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/vjranagit/keyframes/pkg/curve"
)

// Codec compresses the frame, value and key columns of a curve
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a new codec
func NewCodec(level int) (*Codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Codec{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// CurveBlock is the stored form of one channel curve
type CurveBlock struct {
	Count  int    `json:"count"`
	Frames []byte `json:"frames"`
	Values []byte `json:"values"`
	Keyed  []byte `json:"keyed"`
}

// EncodeCurve compresses every column of cv
func (c *Codec) EncodeCurve(cv curve.Curve) *CurveBlock {
	frames := make([]int, len(cv.Samples))
	values := make([]float64, len(cv.Samples))
	keyed := make([]bool, len(cv.Samples))
	for i, s := range cv.Samples {
		frames[i] = s.Frame
		values[i] = s.Value
		keyed[i] = s.Keyed
	}

	block := &CurveBlock{Count: len(cv.Samples), Keyed: packBits(keyed)}
	block.Frames = c.CompressFrames(frames)
	block.Values = c.CompressValues(values)
	return block
}

// DecodeCurve restores the curve stored in b
func (c *Codec) DecodeCurve(b *CurveBlock) (curve.Curve, error) {
	frames, err := c.DecompressFrames(b.Frames, b.Count)
	if err != nil {
		return curve.Curve{}, fmt.Errorf("failed to decompress frames: %w", err)
	}
	values, err := c.DecompressValues(b.Values, b.Count)
	if err != nil {
		return curve.Curve{}, fmt.Errorf("failed to decompress values: %w", err)
	}
	if len(b.Keyed)*8 < b.Count {
		return curve.Curve{}, fmt.Errorf("key bitmap holds %d bits, need %d", len(b.Keyed)*8, b.Count)
	}

	samples := make([]curve.Sample, b.Count)
	for i := range samples {
		samples[i] = curve.Sample{
			Frame: frames[i],
			Value: values[i],
			Keyed: b.Keyed[i/8]&(1<<(i%8)) != 0,
		}
	}
	return curve.Curve{Samples: samples}, nil
}

// CompressFrames compresses frame numbers using delta-of-delta varints + zstd.
// Evenly spaced frames encode to runs of zero.
func (c *Codec) CompressFrames(frames []int) []byte {
	if len(frames) == 0 {
		return nil
	}

	buf := binary.AppendVarint(nil, int64(frames[0]))
	var prevDelta int64
	for i := 1; i < len(frames); i++ {
		delta := int64(frames[i] - frames[i-1])
		buf = binary.AppendVarint(buf, delta-prevDelta)
		prevDelta = delta
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)))
}

// DecompressFrames decompresses count frame numbers
func (c *Codec) DecompressFrames(data []byte, count int) ([]int, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	frames := make([]int, count)
	var prev, prevDelta int64
	for i := 0; i < count; i++ {
		v, n := binary.Varint(raw)
		if n <= 0 {
			return nil, fmt.Errorf("truncated frame column at sample %d", i)
		}
		raw = raw[n:]

		if i == 0 {
			prev = v
		} else {
			prevDelta += v
			prev += prevDelta
		}
		frames[i] = int(prev)
	}

	return frames, nil
}

// CompressValues compresses float64 values using XOR encoding + zstd
func (c *Codec) CompressValues(values []float64) []byte {
	if len(values) == 0 {
		return nil
	}

	buf := make([]byte, 8*len(values))

	// XOR against the previous value so repeated values become zero words
	var prevBits uint64
	for i, v := range values {
		bits := math.Float64bits(v)
		binary.LittleEndian.PutUint64(buf[8*i:], bits^prevBits)
		prevBits = bits
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)))
}

// DecompressValues decompresses count float64 values
func (c *Codec) DecompressValues(data []byte, count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if len(raw) < 8*count {
		return nil, fmt.Errorf("value column holds %d bytes, need %d", len(raw), 8*count)
	}

	values := make([]float64, count)
	var prevBits uint64
	for i := range values {
		bits := binary.LittleEndian.Uint64(raw[8*i:]) ^ prevBits
		values[i] = math.Float64frombits(bits)
		prevBits = bits
	}

	return values, nil
}

// Close closes the codec resources
func (c *Codec) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

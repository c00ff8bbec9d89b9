package curveset

import (
	"fmt"
	"math"
	"strings"
)

// Precision is the relative tolerance used to decide whether a sample still
// sits at its channel's default value.
const Precision = 1e-5

// ChannelID identifies one channel of one entity, e.g. "Spine.rz"
type ChannelID struct {
	Entity  string `json:"entity"`
	Channel string `json:"channel"`
}

func (id ChannelID) String() string {
	return id.Entity + "." + id.Channel
}

// ParseChannelID parses the "Entity.channel" form. The channel is taken after
// the last dot so entity names may contain dots.
func ParseChannelID(s string) (ChannelID, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return ChannelID{}, fmt.Errorf("malformed channel id %q", s)
	}
	return ChannelID{Entity: s[:i], Channel: s[i+1:]}, nil
}

// ChannelSet maps every known channel name to its default value
type ChannelSet map[string]float64

// BoneChannels are the channels of a pose bone relative to its rest pose:
// translation x/y/z and rotation quaternion w/x/y/z.
var BoneChannels = ChannelSet{
	"tx": 0,
	"ty": 0,
	"tz": 0,
	"rw": 1,
	"rx": 0,
	"ry": 0,
	"rz": 0,
}

// isClose reports whether a and b are equal within a relative tolerance.
// There is no absolute tolerance, so only an exact zero is close to zero.
func isClose(a, b, rel float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= rel*math.Max(math.Abs(a), math.Abs(b))
}

package storage

import (
	"sort"

	"github.com/vjranagit/keyframes/pkg/curveset"
)

// Index maps animated channels to the clips that animate them
type Index struct {
	// Maps clip name to clip metadata
	clips map[string]*ClipInfo
	// Inverted index: entity -> channel -> clip names
	channelIndex map[string]map[string][]string
}

// ClipInfo holds metadata about a single stored clip
type ClipInfo struct {
	Name       string               `json:"name"`
	Channels   []curveset.ChannelID `json:"channels"`
	FirstFrame int                  `json:"first_frame"`
	LastFrame  int                  `json:"last_frame"`
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		clips:        make(map[string]*ClipInfo),
		channelIndex: make(map[string]map[string][]string),
	}
}

// AddClip indexes the channels of a curve set, replacing any previous entry
// for the same clip.
func (idx *Index) AddClip(name string, set curveset.CurveSet) {
	idx.RemoveClip(name)

	meta := &ClipInfo{
		Name:     name,
		Channels: set.IDs(),
	}

	first := true
	for _, id := range meta.Channels {
		c := set[id]
		if c.Len() > 0 {
			lo, hi := c.Samples[0].Frame, c.Samples[c.Len()-1].Frame
			if first || lo < meta.FirstFrame {
				meta.FirstFrame = lo
			}
			if first || hi > meta.LastFrame {
				meta.LastFrame = hi
			}
			first = false
		}

		if idx.channelIndex[id.Entity] == nil {
			idx.channelIndex[id.Entity] = make(map[string][]string)
		}
		idx.channelIndex[id.Entity][id.Channel] = append(idx.channelIndex[id.Entity][id.Channel], name)
	}

	idx.clips[name] = meta
}

// RemoveClip drops a clip from the index
func (idx *Index) RemoveClip(name string) {
	meta, ok := idx.clips[name]
	if !ok {
		return
	}

	for _, id := range meta.Channels {
		channels := idx.channelIndex[id.Entity]
		channels[id.Channel] = without(channels[id.Channel], name)
		if len(channels[id.Channel]) == 0 {
			delete(channels, id.Channel)
		}
		if len(channels) == 0 {
			delete(idx.channelIndex, id.Entity)
		}
	}

	delete(idx.clips, name)
}

// GetClip retrieves clip metadata by name
func (idx *Index) GetClip(name string) (*ClipInfo, bool) {
	meta, ok := idx.clips[name]
	return meta, ok
}

// FindClips returns the sorted names of clips that animate every given
// channel. An empty Channel matches any channel of the entity; no selectors
// match every clip.
func (idx *Index) FindClips(selectors ...curveset.ChannelID) []string {
	if len(selectors) == 0 {
		result := make([]string, 0, len(idx.clips))
		for name := range idx.clips {
			result = append(result, name)
		}
		sort.Strings(result)
		return result
	}

	var result []string
	for i, sel := range selectors {
		channels, ok := idx.channelIndex[sel.Entity]
		if !ok {
			return nil
		}

		var matches []string
		if sel.Channel == "" {
			for _, clips := range channels {
				matches = append(matches, clips...)
			}
		} else {
			matches = append(matches, channels[sel.Channel]...)
		}
		matches = dedupe(matches)

		if i == 0 {
			result = matches
		} else {
			result = intersect(result, matches)
		}

		if len(result) == 0 {
			return nil
		}
	}

	return result
}

// ClipCount returns the number of indexed clips
func (idx *Index) ClipCount() int {
	return len(idx.clips)
}

// Clear clears the index
func (idx *Index) Clear() {
	idx.clips = make(map[string]*ClipInfo)
	idx.channelIndex = make(map[string]map[string][]string)
}

// dedupe sorts names and removes repeats in place
func dedupe(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for _, n := range names {
		if len(out) == 0 || n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}

// intersect finds common elements in two sorted slices
func intersect(a, b []string) []string {
	result := make([]string, 0)
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			i++
		} else if a[i] > b[j] {
			j++
		} else {
			result = append(result, a[i])
			i++
			j++
		}
	}

	return result
}

func without(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

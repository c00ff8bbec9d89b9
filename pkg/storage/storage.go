package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vjranagit/keyframes/pkg/curve"
	"github.com/vjranagit/keyframes/pkg/curveset"
)

var (
	// ErrClipNotFound is returned when no clip is stored under a name
	ErrClipNotFound = errors.New("clip not found")

	// ErrChannelNotFound is returned when a stored clip does not animate a channel
	ErrChannelNotFound = errors.New("channel not found")

	// ErrInvalidClipName is returned for names that cannot be used as keys
	ErrInvalidClipName = errors.New("invalid clip name")
)

// Archive stores optimized curve sets by clip name
type Archive interface {
	// Put stores a curve set, replacing any clip with the same name
	Put(ctx context.Context, name string, set curveset.CurveSet) error

	// Get loads a stored curve set
	Get(ctx context.Context, name string) (curveset.CurveSet, error)

	// Delete removes a stored clip
	Delete(ctx context.Context, name string) error

	// Find returns the clips animating every selected channel
	Find(ctx context.Context, selectors ...curveset.ChannelID) ([]string, error)

	// Info returns the indexed metadata of a clip
	Info(ctx context.Context, name string) (*ClipInfo, error)

	// Close closes the archive
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	CompressionLevel int
	// InMemory keeps the archive out of the filesystem; Path is ignored.
	InMemory bool
	Logger   *slog.Logger
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		CompressionLevel: 3,
	}
}

// badgerArchive implements Archive using BadgerDB
type badgerArchive struct {
	cfg    *Config
	db     *badger.DB
	index  *Index
	codec  *Codec
	logger *slog.Logger
	mu     sync.RWMutex
}

// clipRecord is stored under the meta key of every clip
type clipRecord struct {
	Name     string    `json:"name"`
	Channels int       `json:"channels"`
	StoredAt time.Time `json:"stored_at"`
}

const (
	metaPrefix  = "m/"
	curvePrefix = "c/"
	keySep      = 0
)

// NewArchive opens the archive and rebuilds its channel index
func NewArchive(cfg *Config) (Archive, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	codec, err := NewCodec(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}

	a := &badgerArchive{
		cfg:    cfg,
		db:     db,
		index:  NewIndex(),
		codec:  codec,
		logger: logger,
	}

	if err := a.rebuildIndex(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}
	logger.Info("archive opened", "path", cfg.Path, "in_memory", cfg.InMemory, "clips", a.index.ClipCount())

	return a, nil
}

// Put implements Archive.Put
func (a *badgerArchive) Put(ctx context.Context, name string, set curveset.CurveSet) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := json.Marshal(&clipRecord{
		Name:     name,
		Channels: len(set),
		StoredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal clip record: %w", err)
	}

	blocks := make(map[string][]byte, len(set))
	for id, c := range set {
		if strings.IndexByte(id.Entity, keySep) >= 0 {
			return fmt.Errorf("%w: entity %q", ErrInvalidClipName, id.Entity)
		}
		payload, err := json.Marshal(a.codec.EncodeCurve(c))
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", id, err)
		}
		blocks[string(curveKey(name, id))] = payload
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, clipPrefix(name)); err != nil {
			return err
		}
		for key, payload := range blocks {
			if err := txn.Set([]byte(key), payload); err != nil {
				return err
			}
		}
		return txn.Set(metaKey(name), record)
	})
	if err != nil {
		return fmt.Errorf("failed to write clip %q: %w", name, err)
	}

	a.index.AddClip(name, set)
	a.logger.Debug("stored clip", "clip", name, "channels", len(set))

	return nil
}

// Get implements Archive.Get
func (a *badgerArchive) Get(ctx context.Context, name string) (curveset.CurveSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var set curveset.CurveSet
	err := a.db.View(func(txn *badger.Txn) error {
		var err error
		set, err = a.readClip(txn, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Delete implements Archive.Delete
func (a *badgerArchive) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %q", ErrClipNotFound, name)
			}
			return err
		}
		if err := deletePrefix(txn, clipPrefix(name)); err != nil {
			return err
		}
		return txn.Delete(metaKey(name))
	})
	if err != nil {
		return err
	}

	a.index.RemoveClip(name)
	return nil
}

// Find implements Archive.Find
func (a *badgerArchive) Find(ctx context.Context, selectors ...curveset.ChannelID) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.index.FindClips(selectors...), nil
}

// Info implements Archive.Info
func (a *badgerArchive) Info(ctx context.Context, name string) (*ClipInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	info, ok := a.index.GetClip(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrClipNotFound, name)
	}
	out := *info
	out.Channels = append([]curveset.ChannelID(nil), info.Channels...)
	return &out, nil
}

// Close implements Archive.Close
func (a *badgerArchive) Close() error {
	if a.codec != nil {
		a.codec.Close()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// readClip loads every channel stored under name
func (a *badgerArchive) readClip(txn *badger.Txn, name string) (curveset.CurveSet, error) {
	if _, err := txn.Get(metaKey(name)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrClipNotFound, name)
		}
		return nil, err
	}

	prefix := clipPrefix(name)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
	defer it.Close()

	set := make(curveset.CurveSet)
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		id, err := parseCurveKey(item.Key(), prefix)
		if err != nil {
			return nil, err
		}

		var block CurveBlock
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &block)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", id, err)
		}

		c, err := a.codec.DecodeCurve(&block)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", id, err)
		}
		set[id] = c
	}

	return set, nil
}

// rebuildIndex loads every stored clip into the channel index
func (a *badgerArchive) rebuildIndex() error {
	a.index.Clear()

	return a.db.View(func(txn *badger.Txn) error {
		var names []string
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(metaPrefix)})
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(metaPrefix):]))
		}
		it.Close()

		for _, name := range names {
			set, err := a.readClip(txn, name)
			if err != nil {
				return err
			}
			a.index.AddClip(name, set)
		}
		return nil
	})
}

// deletePrefix deletes every key starting with prefix
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	var keys [][]byte
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" || strings.IndexByte(name, keySep) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidClipName, name)
	}
	return nil
}

func metaKey(name string) []byte {
	return []byte(metaPrefix + name)
}

// clipPrefix is the common prefix of every curve key of a clip
func clipPrefix(name string) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(curvePrefix)
	buf.WriteString(name)
	buf.WriteByte(keySep)
	return buf.Bytes()
}

// curveKey generates the storage key of one channel curve
func curveKey(name string, id curveset.ChannelID) []byte {
	buf := bytes.NewBuffer(clipPrefix(name))
	buf.WriteString(id.Entity)
	buf.WriteByte(keySep)
	buf.WriteString(id.Channel)
	return buf.Bytes()
}

func parseCurveKey(key, prefix []byte) (curveset.ChannelID, error) {
	rest := key[len(prefix):]
	i := bytes.IndexByte(rest, keySep)
	if i < 0 {
		return curveset.ChannelID{}, fmt.Errorf("malformed curve key %q", key)
	}
	return curveset.ChannelID{Entity: string(rest[:i]), Channel: string(rest[i+1:])}, nil
}

// Curve is a convenience for loading a single channel of a stored clip
func Curve(ctx context.Context, a Archive, name string, id curveset.ChannelID) (curve.Curve, error) {
	set, err := a.Get(ctx, name)
	if err != nil {
		return curve.Curve{}, err
	}
	c, ok := set[id]
	if !ok {
		return curve.Curve{}, fmt.Errorf("%w: %s in clip %q", ErrChannelNotFound, id, name)
	}
	return c, nil
}

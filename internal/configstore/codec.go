package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSerialization is returned when a configuration value cannot be encoded,
// or a stored document no longer decodes into the module's current type.
var ErrSerialization = errors.New("config serialization failed")

// Codec is the capability set a module supplies for its configuration type.
type Codec[T any] interface {
	// Default returns a fresh configuration used when nothing is stored.
	Default() T
	Encode(cfg T) (json.RawMessage, error)
	Decode(doc json.RawMessage) (T, error)
}

// JSONCodec is a Codec using encoding/json. New must return a fresh value
// on every call; when nil the zero value of T is used.
//
// Decode starts from New(), so fields missing from an older stored document
// keep their defaults. Unknown fields are ignored. Set-valued fields must
// marshal as JSON arrays (mapset.Set does).
type JSONCodec[T any] struct {
	New func() T
}

func (c JSONCodec[T]) Default() T {
	if c.New != nil {
		return c.New()
	}
	var zero T
	return zero
}

func (c JSONCodec[T]) Encode(cfg T) (json.RawMessage, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %T: %v", ErrSerialization, cfg, err)
	}
	return b, nil
}

func (c JSONCodec[T]) Decode(doc json.RawMessage) (T, error) {
	cfg := c.Default()
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return c.Default(), fmt.Errorf("%w: decode %T: %v", ErrSerialization, cfg, err)
	}
	return cfg, nil
}

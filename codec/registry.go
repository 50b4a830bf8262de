package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mattetti/mead/media"
)

var ErrEngineNotFound = errors.New("codec: engine not registered")

type EncoderFactory func(EncoderParams) (EncoderEngine, error)
type DecoderFactory func(DecoderParams) (DecoderEngine, error)

type registry struct {
	mu       sync.RWMutex
	encoders map[string]EncoderFactory
	decoders map[string]DecoderFactory
	// fourcc -> decoder name
	tags map[string]string
}

var engines = &registry{
	encoders: make(map[string]EncoderFactory),
	decoders: make(map[string]DecoderFactory),
	tags:     make(map[string]string),
}

// RegisterEncoder makes an encoder engine available under name. Registering a
// name twice replaces the earlier factory.
func RegisterEncoder(name string, f EncoderFactory) {
	engines.mu.Lock()
	defer engines.mu.Unlock()
	engines.encoders[name] = f
}

// RegisterDecoder makes a decoder engine available under name and as the
// decoder for each of the given fourcc tags.
func RegisterDecoder(name string, f DecoderFactory, fourccs ...string) {
	engines.mu.Lock()
	defer engines.mu.Unlock()
	engines.decoders[name] = f
	for _, tag := range fourccs {
		engines.tags[tag] = name
	}
}

// NewEncoder validates p and starts an encoder session with the named engine.
func NewEncoder(name string, p EncoderParams) (*Encoder, error) {
	engines.mu.RLock()
	f, ok := engines.encoders[name]
	engines.mu.RUnlock()
	if !ok {
		return nil, &media.Error{Kind: media.ErrUnsupported, Op: "new encoder", Detail: name, Err: ErrEngineNotFound}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("configure %s encoder: %w", name, err)
	}
	return WrapEncoder(e), nil
}

// NewDecoder starts a decoder session with the named engine.
func NewDecoder(name string, p DecoderParams) (*Decoder, error) {
	engines.mu.RLock()
	f, ok := engines.decoders[name]
	engines.mu.RUnlock()
	if !ok {
		return nil, &media.Error{Kind: media.ErrUnsupported, Op: "new decoder", Detail: name, Err: ErrEngineNotFound}
	}
	d, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("configure %s decoder: %w", name, err)
	}
	return WrapDecoder(d), nil
}

// DecoderFor returns the name of the decoder registered for a fourcc tag.
func DecoderFor(fourcc [4]byte) (string, bool) {
	engines.mu.RLock()
	defer engines.mu.RUnlock()
	name, ok := engines.tags[string(fourcc[:])]
	return name, ok
}

// EngineInfo lists what is registered under one name.
type EngineInfo struct {
	Name    string
	Encoder bool
	Decoder bool
}

// Engines returns the registered engines sorted by name.
func Engines() []EngineInfo {
	engines.mu.RLock()
	defer engines.mu.RUnlock()
	byName := make(map[string]*EngineInfo)
	get := func(name string) *EngineInfo {
		if byName[name] == nil {
			byName[name] = &EngineInfo{Name: name}
		}
		return byName[name]
	}
	for name := range engines.encoders {
		get(name).Encoder = true
	}
	for name := range engines.decoders {
		get(name).Decoder = true
	}
	out := make([]EngineInfo, 0, len(byName))
	for _, info := range byName {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

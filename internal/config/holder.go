package config

import "sync/atomic"

// Holder publishes the active configuration to concurrent readers. The
// configuration itself is immutable; updates swap the whole pointer, so an
// in-flight ingestion batch observes either the old or the new
// configuration in full, never a mix.
type Holder struct {
	current atomic.Pointer[Config]
}

// NewHolder creates a holder with the given initial configuration.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.current.Store(cfg)

	return h
}

// Load returns the active configuration. The returned value must not be
// modified.
func (h *Holder) Load() *Config {
	return h.current.Load()
}

// Swap validates the replacement against the schema and, on success,
// atomically publishes it. On failure the previously active configuration
// remains in effect and the joined violation list is returned.
func (h *Holder) Swap(cfg *Config, schema Schema) error {
	err := Validate(cfg, schema)
	if err != nil {
		return err
	}

	h.current.Store(cfg)

	return nil
}

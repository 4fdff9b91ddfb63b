// Package store holds the streaming state of the engine: a sharded mapping
// from metric key to one sliding window per horizon. Shards keep distinct
// keys from contending on a single lock; per-entry locks serialize updates
// to the same key.
package store

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
)

// Key identifies one monitored series: graph type, service, optional
// operation, and any extra label selector in canonical form. Keys are
// immutable value types; equality and ordering are by field tuple.
type Key struct {
	Type      config.GraphType
	Service   string
	Operation string
	// Extra is the canonical "name=value,name=value" form of any
	// additional label selector, built by [CanonicalLabels].
	Extra string
}

// CanonicalLabels renders a label map in canonical sorted form so that
// equal selectors always produce equal keys.
func CanonicalLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+labels[name])
	}

	return strings.Join(parts, ",")
}

// String renders the key for logs and diagnostics.
func (k Key) String() string {
	if k.Extra == "" {
		return fmt.Sprintf("%s/%s/%s", k.Type, k.Service, k.Operation)
	}

	return fmt.Sprintf("%s/%s/%s{%s}", k.Type, k.Service, k.Operation, k.Extra)
}

// Less orders keys by field tuple: type, service, operation, extra.
func (k Key) Less(other Key) bool {
	if k.Type != other.Type {
		return k.Type < other.Type
	}

	if k.Service != other.Service {
		return k.Service < other.Service
	}

	if k.Operation != other.Operation {
		return k.Operation < other.Operation
	}

	return k.Extra < other.Extra
}

// shard returns the shard index for the key.
func (k Key) shard() int {
	h := fnv.New32a()
	h.Write([]byte(k.Type))
	h.Write([]byte{0})
	h.Write([]byte(k.Service))
	h.Write([]byte{0})
	h.Write([]byte(k.Operation))
	h.Write([]byte{0})
	h.Write([]byte(k.Extra))

	return int(h.Sum32() % shardCount)
}

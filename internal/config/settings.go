package config

import (
	"errors"
	"fmt"
	"time"
)

// Settings is the process-level configuration: bind address, endpoints,
// cadences, and snapshot location. Unlike [Config], settings are fixed for
// the lifetime of the process. Field tags use mapstructure for viper
// unmarshalling.
type Settings struct {
	// Bind is the HTTP listen address.
	Bind string `mapstructure:"bind"`

	// Prefix is the URL path prefix all API routes are mounted under.
	Prefix string `mapstructure:"prefix"`

	// PollInterval is the cadence of trace source polling.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// SampleInterval is the cadence of remote-write sampling.
	SampleInterval time.Duration `mapstructure:"sample_interval"`

	// Snapshot holds durable state settings.
	Snapshot SnapshotSettings `mapstructure:"snapshot"`

	// Source is the trace source endpoint.
	Source EndpointSettings `mapstructure:"source"`

	// RemoteWrite is the metrics backend endpoint.
	RemoteWrite EndpointSettings `mapstructure:"remote_write"`

	// Schema declares the span tag labels selector configurations may
	// match on. Configurations naming undeclared labels are rejected.
	Schema Schema `mapstructure:"schema"`
}

// SnapshotSettings holds durable state capture settings.
type SnapshotSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Format  string `mapstructure:"format"`
}

// Supported snapshot formats.
const (
	SnapshotFormatJSON = "json"
	SnapshotFormatGob  = "gob"
)

// EndpointSettings holds the location of an external collaborator.
type EndpointSettings struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default process settings.
const (
	DefaultBind           = ":9464"
	DefaultPrefix         = "/"
	DefaultPollInterval   = 10 * time.Second
	DefaultSampleInterval = 30 * time.Second
	DefaultSnapshotDir    = "state"
)

// Sentinel errors for settings validation.
var (
	// ErrInvalidBind indicates an empty bind address.
	ErrInvalidBind = errors.New("bind address must not be empty")
	// ErrInvalidPollInterval indicates a non-positive poll interval.
	ErrInvalidPollInterval = errors.New("poll_interval must be positive")
	// ErrInvalidSampleInterval indicates a non-positive sample interval.
	ErrInvalidSampleInterval = errors.New("sample_interval must be positive")
	// ErrSnapshotDirRequired indicates snapshots enabled without a directory.
	ErrSnapshotDirRequired = errors.New("snapshot.dir is required when snapshots are enabled")
	// ErrUnknownSnapshotFormat indicates a snapshot format other than json or gob.
	ErrUnknownSnapshotFormat = errors.New("snapshot.format must be json or gob")
	// ErrUnknownLabelType indicates a schema label with an unknown value type.
	ErrUnknownLabelType = errors.New("schema label type must be string, number, or bool")
)

// Validate checks the settings for internal consistency.
func (s *Settings) Validate() error {
	if s.Bind == "" {
		return ErrInvalidBind
	}

	if s.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if s.SampleInterval <= 0 {
		return ErrInvalidSampleInterval
	}

	if s.Snapshot.Enabled && s.Snapshot.Dir == "" {
		return ErrSnapshotDirRequired
	}

	switch s.Snapshot.Format {
	case "", SnapshotFormatJSON, SnapshotFormatGob:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSnapshotFormat, s.Snapshot.Format)
	}

	for name, t := range s.Schema.Labels {
		switch t {
		case LabelString, LabelNumber, LabelBool:
		default:
			return fmt.Errorf("schema.labels[%s]: %w: %q", name, ErrUnknownLabelType, t)
		}
	}

	return nil
}

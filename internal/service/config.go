package service

import (
	"time"

	"github.com/fret/fret/pkg/types"
)

// Profile selects the token-bucket budgets, payload caps, fan-out, and
// inflight caps a Service runs with (§6).
type Profile string

const (
	ProfileEdge Profile = "edge"
	ProfileCore Profile = "core"
)

// Config holds every tunable named in §6. Build one with DefaultConfig and
// ConfigOption setters, mirroring the functional-options idiom used
// throughout this codebase.
type Config struct {
	K           int
	M           int
	Capacity    int
	Profile     Profile
	Bootstraps  []string
	NetworkName types.NetworkName

	ActiveInterval  time.Duration
	PassiveInterval time.Duration

	DedupTTL time.Duration
	DedupMax int
}

// ConfigOption mutates a Config under construction.
type ConfigOption func(*Config)

// DefaultConfig returns the baseline configuration: k=3, m=8, capacity=256,
// edge profile, passive stabilization at 1500ms.
func DefaultConfig() Config {
	return Config{
		K:               3,
		M:               8,
		Capacity:        256,
		Profile:         ProfileEdge,
		ActiveInterval:  300 * time.Millisecond,
		PassiveInterval: 1500 * time.Millisecond,
		DedupTTL:        30 * time.Second,
		DedupMax:        1024,
	}
}

func WithK(k int) ConfigOption { return func(c *Config) { c.K = k } }
func WithM(m int) ConfigOption { return func(c *Config) { c.M = m } }
func WithCapacity(capacity int) ConfigOption { return func(c *Config) { c.Capacity = capacity } }
func WithProfile(p Profile) ConfigOption     { return func(c *Config) { c.Profile = p } }
func WithBootstraps(peers []string) ConfigOption {
	return func(c *Config) { c.Bootstraps = peers }
}
func WithNetworkName(name types.NetworkName) ConfigOption {
	return func(c *Config) { c.NetworkName = name }
}
func WithDedupTTL(ttl time.Duration) ConfigOption { return func(c *Config) { c.DedupTTL = ttl } }

// Validate returns a wrapped error for any non-positive count field.
func (c Config) Validate() error {
	if c.K <= 0 {
		return newError("Validate", ErrInvalidConfig, "k must be positive")
	}
	if c.M <= 0 {
		return newError("Validate", ErrInvalidConfig, "m must be positive")
	}
	if c.Capacity <= 0 {
		return newError("Validate", ErrInvalidConfig, "capacity must be positive")
	}
	if c.Profile != ProfileEdge && c.Profile != ProfileCore {
		return newError("Validate", ErrInvalidConfig, "profile must be edge or core")
	}
	return nil
}

// Budgets holds the profile-dependent limits §6/§5 name: per-protocol
// payload ceilings, proactive fan-out, inflight maybeAct cap, and the
// token-bucket rates.
type Budgets struct {
	MaxPingBytes      int
	MaxNeighborsBytes int
	MaxMaybeActBytes  int
	MaxLeaveBytes     int

	AnnounceFanout   int
	ReplacementCap   int
	InflightMaybeAct int32

	PingRate       float64
	NeighborsRate  float64
	MaybeActRate   float64
	DiscoveryRate  float64
}

// BudgetsFor returns the concrete limits for a profile (§6).
func BudgetsFor(p Profile) Budgets {
	if p == ProfileCore {
		return Budgets{
			MaxPingBytes:      1024,
			MaxNeighborsBytes: 131072,
			MaxMaybeActBytes:  524288,
			MaxLeaveBytes:     4096,
			AnnounceFanout:    4,
			ReplacementCap:    6,
			InflightMaybeAct:  16,
			PingRate:          20,
			NeighborsRate:     10,
			MaybeActRate:      50,
			DiscoveryRate:     5,
		}
	}
	return Budgets{
		MaxPingBytes:      1024,
		MaxNeighborsBytes: 65536,
		MaxMaybeActBytes:  262144,
		MaxLeaveBytes:     4096,
		AnnounceFanout:    2,
		ReplacementCap:    6,
		InflightMaybeAct:  4,
		PingRate:          10,
		NeighborsRate:     5,
		MaybeActRate:      20,
		DiscoveryRate:     2,
	}
}

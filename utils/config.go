package utils

import (
	"crypto/tls"
	"time"
)

/*
 * ============================================================================
 * 客户端配置
 * ============================================================================
 *
 * ClusterOptions/NodeOptions 描述连接集群所需的拨号参数，
 * 支持通过环境变量覆盖默认值，风格与服务器端配置一致。
 */

// NodeOptions configures how a single node connection is dialed.
type NodeOptions struct {
	DialTimeout time.Duration
	TLSConfig   *tls.Config
}

// ClusterOptions configures a cluster coordinator's seeds and dial
// behavior. Functional options following WithXxx let callers override
// individual fields without naming every field of the struct.
type ClusterOptions struct {
	Seeds        []string
	Node         NodeOptions
	MaxRedirects int

	CircuitBreakerDuration time.Duration
	RefreshInterval        time.Duration
}

// Option mutates a ClusterOptions under construction.
type Option func(*ClusterOptions)

// DefaultClusterOptions mirrors the coordinator's own defaults, with
// environment overrides applied the way the rest of this package reads
// configuration.
func DefaultClusterOptions() ClusterOptions {
	return ClusterOptions{
		MaxRedirects:           int(GetIntEnvWithDefault("VALKEYGO_MAX_REDIRECTS", 4)),
		CircuitBreakerDuration: time.Duration(GetIntEnvWithDefault("VALKEYGO_CIRCUIT_BREAKER_SECONDS", 30)) * time.Second,
		RefreshInterval:        time.Duration(GetIntEnvWithDefault("VALKEYGO_REFRESH_SECONDS", 30)) * time.Second,
		Node: NodeOptions{
			DialTimeout: time.Duration(GetIntEnvWithDefault("VALKEYGO_DIAL_TIMEOUT_MS", 2000)) * time.Millisecond,
		},
	}
}

// WithSeeds sets the initial seed addresses used for the first discovery round.
func WithSeeds(seeds ...string) Option {
	return func(o *ClusterOptions) { o.Seeds = seeds }
}

// WithDialTimeout overrides the per-connection dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o *ClusterOptions) { o.Node.DialTimeout = d }
}

// WithTLSConfig enables TLS for all node connections.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *ClusterOptions) { o.Node.TLSConfig = cfg }
}

// WithMaxRedirects overrides how many MOVED/ASK hops Execute follows
// before giving up.
func WithMaxRedirects(n int) Option {
	return func(o *ClusterOptions) { o.MaxRedirects = n }
}

// WithCircuitBreakerDuration overrides how long the coordinator stays
// Unavailable or Degraded without consensus before failing parked
// requests with the circuit-breaker error.
func WithCircuitBreakerDuration(d time.Duration) Option {
	return func(o *ClusterOptions) { o.CircuitBreakerDuration = d }
}

// WithRefreshInterval overrides the periodic topology refresh cadence.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *ClusterOptions) { o.RefreshInterval = d }
}

// NewClusterOptions builds options starting from environment-derived
// defaults and layering the given functional options on top.
func NewClusterOptions(opts ...Option) ClusterOptions {
	o := DefaultClusterOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GetConfigValue 获取配置值（字符串）
func GetConfigValue(key string, defaultValue string) string {
	return GetEnvWithDefault(key, defaultValue)
}

// GetConfigInt 获取配置值（整数）
func GetConfigInt(key string, defaultValue int) int {
	return int(GetIntEnvWithDefault(key, int64(defaultValue)))
}

// GetConfigBool 获取配置值（布尔）
func GetConfigBool(key string, defaultValue bool) bool {
	return GetBoolEnvWithDefault(key, defaultValue)
}

// GetConfigFloat 获取配置值（浮点数）
func GetConfigFloat(key string, defaultValue float64) float64 {
	return GetFloatEnvWithDefault(key, defaultValue)
}

package config

import "time"

type Config struct {
	Log       LogConfig
	Server    ServerConfig
	Transport TransportConfig
	Datastore DatastoreConfig
	Fallback  FallbackConfig
	Reconcile ReconcileConfig
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool `mapstructure:"trustProxyHeaders"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	SendBuffer  int           `mapstructure:"sendBuffer"`
}

type DatastoreConfig struct {
	Path             string        `mapstructure:"path"`
	ConnectTimeout   time.Duration `mapstructure:"connectTimeout"`
	ReconnectTimeout time.Duration `mapstructure:"reconnectTimeout"`
	ProbeInterval    time.Duration `mapstructure:"probeInterval"`
	OperationTimeout time.Duration `mapstructure:"operationTimeout"`
}

type FallbackConfig struct {
	// operation kind -> deny | serveCachedValue | serveSynthetic
	Policies map[string]string `mapstructure:"policies"`
}

type ReconcileConfig struct {
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	MaxDeferred  int           `mapstructure:"maxDeferred"`
}

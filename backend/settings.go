package backend

import (
	"time"
)

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		JwtTtl:      30 * 24 * time.Hour,
		MaxBlobSize: 8 * 1024 * 1024,
		Live:        *DefaultLiveSettings(),
	}
}

type ServerSettings struct {
	// HS256 signing key for identity jwts
	JwtSecret   []byte
	JwtTtl      time.Duration
	MaxBlobSize int64
	Live        LiveSettings
}

func DefaultLiveSettings() *LiveSettings {
	return &LiveSettings{
		AuthTimeout:  5 * time.Second,
		PingTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  15 * time.Second,
		// client frames carry only auth and a query
		MaxMessageSize: 64 * 1024,
	}
}

type LiveSettings struct {
	AuthTimeout    time.Duration
	PingTimeout    time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

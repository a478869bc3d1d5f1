package backend

import (
	"context"
	"time"

	"finsync/internal/remote"
)

// GatewayResult carries the constructed gateway and optional cleanup.
type GatewayResult struct {
	Gateway remote.Gateway
	// Cached is set when category caching is enabled; register its cache with a
	// cache.Manager for periodic expiry.
	Cached  *remote.CachedGateway
	Cleanup CleanupFunc
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Factory creates remote gateways based on configuration
type Factory interface {
	CreateGateway(ctx context.Context, config Config) (*GatewayResult, error)
}

// Config holds configuration for gateway creation
type Config struct {
	Type BackendType

	// api specific
	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	// CategoryCacheTTL of zero disables the category cache.
	CategoryCacheTTL time.Duration
}

// BackendType represents the type of remote backend
type BackendType string

const (
	APIBackend    BackendType = "api"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case APIBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

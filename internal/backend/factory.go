package backend

import (
	"context"
	"fmt"

	"finsync/internal/log"
	"finsync/internal/remote"
	"finsync/internal/remote/api"
	"finsync/internal/remote/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory() Factory {
	return &DefaultFactory{logger: log.WithComponent(log.ComponentBackend)}
}

// CreateGateway implements Factory.CreateGateway
func (f *DefaultFactory) CreateGateway(ctx context.Context, config Config) (*GatewayResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var gw remote.Gateway
	switch config.Type {
	case APIBackend:
		gw = api.NewClient(config.APIBaseURL, config.APIToken, config.APITimeout)
		f.logger.InfoContext(ctx, "Initialized API remote backend", "base_url", config.APIBaseURL)
	case MemoryBackend:
		gw = memory.New()
		f.logger.WarnContext(ctx, "Initialized in-memory remote backend; data is not persisted remotely")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	result := &GatewayResult{Gateway: gw}
	if config.CategoryCacheTTL > 0 {
		cached := remote.NewCachedGateway(gw, config.CategoryCacheTTL)
		result.Gateway = cached
		result.Cached = cached
		f.logger.InfoContext(ctx, "Category cache enabled", "ttl", config.CategoryCacheTTL)
	}
	return result, nil
}

package backend

import (
	"fmt"

	"finsync/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.RemoteBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid remote backend in config: %s", appConfig.RemoteBackend)
	}

	return Config{
		Type:             backendType,
		APIBaseURL:       appConfig.APIBaseURL,
		APIToken:         appConfig.APIToken,
		APITimeout:       appConfig.APITimeout,
		CategoryCacheTTL: appConfig.CategoryCacheTTL,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case APIBackend:
		if c.APIBaseURL == "" {
			return fmt.Errorf("API base URL is required for api backend")
		}
	case MemoryBackend:
		// nothing to check
	}
	return nil
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	return []string{APIBackend.String(), MemoryBackend.String()}
}

package cloud

import (
	"context"
	"fmt"

	"testkiln/internal/config"
)

// NewConnection builds a provider connection from config (factory
// pattern). This implements the discriminated union dispatch.
func NewConnection(ctx context.Context, cfg *config.Config) (Connection, error) {
	switch cfg.Provider {
	case config.ProviderGCE:
		return NewGCEConnection(ctx, cfg.GoogleProject, cfg.GoogleClientEmail, cfg.GoogleKeyLocation)

	case config.ProviderAWS:
		if cfg.AWS == nil {
			return nil, fmt.Errorf("aws config is nil")
		}
		return NewAWSConnection(ctx, cfg.AWS.Region, cfg.AWS.AccessKey, cfg.AWS.SecretKey)

	case config.ProviderDigitalOcean:
		if cfg.DigitalOcean == nil {
			return nil, fmt.Errorf("digitalocean config is nil")
		}
		return NewDOConnection(cfg.DigitalOcean.Token)

	case config.ProviderYandexCloud:
		if cfg.YandexCloud == nil {
			return nil, fmt.Errorf("yandex_cloud config is nil")
		}
		return NewYCConnection(ctx, cfg.YandexCloud.IAMToken, cfg.YandexCloud.FolderID, cfg.YandexCloud.SubnetID)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}
}

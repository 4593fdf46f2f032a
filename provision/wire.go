package provision

import (
	"fmt"

	"github.com/rustyeddy/tradejournal/broker/metaapi"
	"github.com/rustyeddy/tradejournal/config"
	"github.com/rustyeddy/tradejournal/journal"
	"go.uber.org/zap"
)

// NewService assembles a Service from configuration.
func NewService(cfg *config.Config, store journal.Store, sessions SessionResolver, log *zap.Logger) (*Service, error) {
	p := cfg.Provisioning
	d, err := p.ParseDurations()
	if err != nil {
		return nil, err
	}
	if p.Token == "" {
		return nil, fmt.Errorf("provisioning token is not set (META_API_ACCESS_TOKEN)")
	}

	client := metaapi.New(metaapi.Config{
		ProvisioningURL: p.ProvisioningURL,
		ClientURL:       p.ClientURL,
		Token:           p.Token,
		Timeout:         d.RequestTimeout,
		Logger:          log,
	})

	return &Service{
		Sessions: sessions,
		Poller: &Poller{
			Client:       client,
			MaxAttempts:  p.MaxAttempts,
			DefaultDelay: d.DefaultDelay,
			MaxDelay:     d.MaxDelay,
			Deadline:     d.Deadline,
			Logger:       log,
		},
		Store:   store,
		States:  client,
		Options: metaapi.Options{Region: p.Region, Magic: p.Magic},
		Logger:  log,
	}, nil
}

package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
)

// ShoutrrrProvider sends through one shoutrrr router covering every configured URL.
type ShoutrrrProvider struct {
	name   string
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrProvider validates urls and builds the sender.
func NewShoutrrrProvider(name string, urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// shoutrrr errors may echo the URL and its token
		return nil, errors.Newf("invalid notification URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	name = strings.TrimSpace(name)
	if name == "" {
		name = "shoutrrr"
	}
	return &ShoutrrrProvider{name: name, urls: slices.Clone(urls), sender: sender}, nil
}

// Name implements Provider.
func (s *ShoutrrrProvider) Name() string { return s.name }

// Send implements Provider. The router applies its own timeout.
func (s *ShoutrrrProvider) Send(_ context.Context, n *Notification) error {
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}

	for _, err := range s.sender.Send(n.Message, &params) {
		if err != nil {
			return errors.Newf("%s", logger.RedactSensitiveData(err.Error())).
				Component("notification").
				Category(errors.CategoryIntegration).
				Context("provider", s.name).
				Build()
		}
	}
	return nil
}

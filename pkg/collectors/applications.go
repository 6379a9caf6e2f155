package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// ApplicationCollector fetches app registrations and their owners.
type ApplicationCollector struct {
	client GraphAPI
	logger *slog.Logger
}

// NewApplicationCollector builds an application collector.
func NewApplicationCollector(client GraphAPI, logger *slog.Logger) *ApplicationCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplicationCollector{client: client, logger: logger}
}

type applicationDTO struct {
	ID                string          `json:"id"`
	AppID             string          `json:"appId"`
	DisplayName       string          `json:"displayName"`
	CreatedDateTime   *time.Time      `json:"createdDateTime"`
	PublisherDomain   string          `json:"publisherDomain"`
	VerifiedPublisher *struct {
		VerifiedPublisherID string `json:"verifiedPublisherId"`
		DisplayName         string `json:"displayName"`
	} `json:"verifiedPublisher"`
	SignInAudience      string          `json:"signInAudience"`
	PasswordCredentials []credentialDTO `json:"passwordCredentials"`
	KeyCredentials      []credentialDTO `json:"keyCredentials"`
	Notes               string          `json:"notes"`
}

func (d applicationDTO) toApplication() *types.Application {
	app := &types.Application{
		ObjectID:            d.ID,
		AppID:               d.AppID,
		DisplayName:         d.DisplayName,
		CreatedDateTime:     d.CreatedDateTime,
		PublisherDomain:     d.PublisherDomain,
		SignInAudience:      d.SignInAudience,
		PasswordCredentials: toCredentials(d.PasswordCredentials, types.CredentialPassword),
		KeyCredentials:      toCredentials(d.KeyCredentials, types.CredentialCertificate),
		Notes:               d.Notes,
	}
	if d.VerifiedPublisher != nil {
		app.VerifiedPublisher = d.VerifiedPublisher.VerifiedPublisherID
	}
	return app
}

// Collect fetches every app registration in the tenant, then enriches each
// with its owners. Owner fetch failures are logged and leave the app with an
// empty owners collection rather than failing the collection.
func (c *ApplicationCollector) Collect(ctx context.Context) ([]*types.Application, error) {
	query := url.Values{}
	query.Set("$select", "id,appId,displayName,createdDateTime,publisherDomain,verifiedPublisher,signInAudience,passwordCredentials,keyCredentials,notes")
	query.Set("$top", pageSize)

	var apps []*types.Application
	err := c.client.GetAllPages(ctx, "/applications", query, func(raw json.RawMessage) error {
		var dto applicationDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return fmt.Errorf("decode application: %w", err)
		}
		apps = append(apps, dto.toApplication())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}

	c.logger.Info("collected applications", "count", len(apps))
	c.enrichOwners(ctx, apps)
	return apps, nil
}

func (c *ApplicationCollector) enrichOwners(ctx context.Context, apps []*types.Application) {
	sem := make(chan struct{}, enrichWorkers)
	var wg sync.WaitGroup
	for _, app := range apps {
		wg.Add(1)
		sem <- struct{}{}
		go func(app *types.Application) {
			defer wg.Done()
			defer func() { <-sem }()

			owners, err := fetchOwners(ctx, c.client, "/applications/"+app.ObjectID+"/owners")
			if err != nil {
				c.logger.Warn("failed to fetch application owners",
					"appId", app.AppID, "displayName", app.DisplayName, "error", err)
				return
			}
			app.Owners = owners
		}(app)
	}
	wg.Wait()
}

// Package oauth provides the chain links for the OAuth posture scan.
package oauth

import (
	"fmt"

	"github.com/praetorian-inc/janus-framework/pkg/chain"
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"

	"github.com/praetorian-inc/oauthkitchen/internal/helpers"
	"github.com/praetorian-inc/oauthkitchen/pkg/graph"
	"github.com/praetorian-inc/oauthkitchen/pkg/links/options"
)

// ScanContext carries the authenticated Graph client to the scan link.
type ScanContext struct {
	Client   *graph.Client
	TenantID string
}

// AuthLink authenticates to the tenant and hands an authenticated Graph
// client to the next link. Capability probing happens inside the scan, where
// it is reported as a stage.
type AuthLink struct {
	*chain.Base
}

func NewAuthLink(configs ...cfg.Config) chain.Link {
	l := &AuthLink{}
	l.Base = chain.NewBase(l, configs...)
	return l
}

func (l *AuthLink) Params() []cfg.Param {
	return []cfg.Param{
		options.AzureTenantID(),
		options.AzureClientID(),
		options.AzureClientSecret(),
		options.AzureCertificatePath(),
		options.AzureDeviceCode(),
	}
}

func (l *AuthLink) Process(input any) error {
	tenantID, err := cfg.As[string](l.Arg("tenant"))
	if err != nil {
		return fmt.Errorf("tenant is required: %w", err)
	}
	clientID, _ := cfg.As[string](l.Arg("client-id"))
	clientSecret, _ := cfg.As[string](l.Arg("client-secret"))
	certificate, _ := cfg.As[string](l.Arg("certificate"))
	deviceCode, _ := cfg.As[bool](l.Arg("device-code"))

	l.Logger.Info("Authenticating to Entra tenant", "tenant_id", tenantID)

	silent, interactive, err := helpers.BuildCredentials(helpers.CredentialOptions{
		TenantID:        tenantID,
		ClientID:        clientID,
		ClientSecret:    clientSecret,
		CertificatePath: certificate,
		DeviceCode:      deviceCode,
	})
	if err != nil {
		return fmt.Errorf("failed to build credentials: %w", err)
	}

	broker, err := graph.NewCredentialBroker(silent, interactive, l.Logger)
	if err != nil {
		return fmt.Errorf("failed to create token broker: %w", err)
	}
	client := graph.NewClient(broker, l.Logger)

	return l.Send(&ScanContext{
		Client:   client,
		TenantID: tenantID,
	})
}

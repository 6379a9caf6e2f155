// Package helpers holds shared Azure credential construction used by both
// the CLI and the module links.
package helpers

import (
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// CredentialOptions selects how the scanner authenticates to the tenant.
type CredentialOptions struct {
	TenantID        string
	ClientID        string
	ClientSecret    string
	CertificatePath string
	// DeviceCode enables the device-code flow as the interactive fallback.
	DeviceCode bool
}

// BuildCredentials returns the silent credential plus an optional
// interactive fallback. Client secret and certificate credentials never
// prompt; without either, the Azure default chain is used silently and
// device code (when enabled) covers the interactive path.
func BuildCredentials(opts CredentialOptions) (silent, interactive azcore.TokenCredential, err error) {
	switch {
	case opts.ClientSecret != "":
		silent, err = azidentity.NewClientSecretCredential(opts.TenantID, opts.ClientID, opts.ClientSecret, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("client secret credential: %w", err)
		}
	case opts.CertificatePath != "":
		data, readErr := os.ReadFile(opts.CertificatePath)
		if readErr != nil {
			return nil, nil, fmt.Errorf("read certificate %s: %w", opts.CertificatePath, readErr)
		}
		certs, key, parseErr := azidentity.ParseCertificates(data, nil)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("parse certificate %s: %w", opts.CertificatePath, parseErr)
		}
		silent, err = azidentity.NewClientCertificateCredential(opts.TenantID, opts.ClientID, certs, key, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("client certificate credential: %w", err)
		}
	default:
		silent, err = azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
			TenantID: opts.TenantID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("default credential: %w", err)
		}
	}

	if opts.DeviceCode {
		interactive, err = azidentity.NewDeviceCodeCredential(&azidentity.DeviceCodeCredentialOptions{
			TenantID: opts.TenantID,
			ClientID: opts.ClientID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("device code credential: %w", err)
		}
	}

	return silent, interactive, nil
}

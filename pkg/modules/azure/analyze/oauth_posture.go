package analyze

import (
	"github.com/praetorian-inc/janus-framework/pkg/chain"
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"

	"github.com/praetorian-inc/oauthkitchen/internal/registry"
	"github.com/praetorian-inc/oauthkitchen/pkg/links/azure/oauth"
	"github.com/praetorian-inc/oauthkitchen/pkg/links/options"
	"github.com/praetorian-inc/oauthkitchen/pkg/outputters"
)

func init() {
	registry.Register("azure", "analyze", AzureOAuthPosture.Metadata().Properties()["id"].(string), *AzureOAuthPosture)
}

var AzureOAuthPosture = chain.NewModule(
	cfg.NewMetadata(
		"OAuth Posture",
		"Analyze Entra OAuth consent posture: permission risk scores, shadow OAuth patterns, and expiring app credentials",
	).WithProperties(map[string]any{
		"id":          "oauth-posture",
		"platform":    "azure",
		"opsec_level": "safe",
		"authors":     []string{"Praetorian"},
	}),
).WithLinks(
	oauth.NewAuthLink,
	oauth.NewScanLink,
).WithOutputters(
	outputters.NewPostureJSONOutputter,
).WithParams(
	options.AzureTenantID(),
	options.AzureClientID(),
	options.AzureClientSecret(),
	options.AzureCertificatePath(),
	options.AzureDeviceCode(),
	options.OAuthRulesFile(),
	options.OAuthIncludeRemediation(),
	options.OAuthOutputFile(),
).WithAutoRun()

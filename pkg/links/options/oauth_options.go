// Package options defines the shared parameter constructors used by links
// and modules.
package options

import (
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"
)

func AzureTenantID() cfg.Param {
	return cfg.NewParam[string]("tenant", "The Entra tenant ID to scan").
		WithShortcode("t").
		AsRequired()
}

func AzureClientID() cfg.Param {
	return cfg.NewParam[string]("client-id", "Client ID of the app registration used to authenticate").
		WithShortcode("c")
}

func AzureClientSecret() cfg.Param {
	return cfg.NewParam[string]("client-secret", "Client secret for app-only authentication")
}

func AzureCertificatePath() cfg.Param {
	return cfg.NewParam[string]("certificate", "Path to a PEM/PKCS12 certificate for app-only authentication")
}

func AzureDeviceCode() cfg.Param {
	return cfg.NewParam[bool]("device-code", "Allow device-code sign-in when silent authentication requires interaction").
		WithDefault(false)
}

func OAuthRulesFile() cfg.Param {
	return cfg.NewParam[string]("rules-file", "Permission rules document to use instead of the bundled one (.json or .yaml)")
}

func OAuthIncludeRemediation() cfg.Param {
	return cfg.NewParam[bool]("include-remediation", "Attach remediation guidance to findings").
		WithDefault(false)
}

func OAuthOutputFile() cfg.Param {
	return cfg.NewParam[string]("output", "File to write the scan results to").
		WithShortcode("o")
}

package outputters

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

const topRiskyCount = 10

// WriteMarkdown renders a human-readable posture report.
func WriteMarkdown(w io.Writer, result *types.AnalysisResult) error {
	var b strings.Builder

	b.WriteString("# OAuth Posture Report\n\n")
	fmt.Fprintf(&b, "- **Tenant:** %s\n", result.TenantID)
	fmt.Fprintf(&b, "- **Scan ID:** %s\n", result.ScanID)
	fmt.Fprintf(&b, "- **Scanned:** %s\n", result.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Mode:** %s\n\n", result.Mode)

	if !result.SignInDataAvailable {
		b.WriteString("> Sign-in activity was not readable with the granted permissions; inactivity checks were skipped.\n\n")
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| Applications | %d |\n", result.TotalApps)
	fmt.Fprintf(&b, "| Service principals | %d |\n", result.TotalServicePrincipals)
	fmt.Fprintf(&b, "| Critical risk | %d |\n", result.CriticalCount)
	fmt.Fprintf(&b, "| High risk | %d |\n", result.HighRiskCount)
	fmt.Fprintf(&b, "| Apps without owners | %d |\n", result.AppsWithoutOwners)
	fmt.Fprintf(&b, "| Credentials expiring in 30 days | %d |\n\n", result.ExpiringCredentials30Days)

	writeTopRisky(&b, result)
	writeShadowFindings(&b, result.ShadowFindings)
	writeCredentialFindings(&b, result.CredentialFindings)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeTopRisky(b *strings.Builder, result *types.AnalysisResult) {
	top := result.TopRiskyPrincipals(topRiskyCount)
	if len(top) == 0 {
		return
	}

	b.WriteString("## Riskiest Service Principals\n\n")
	b.WriteString("| Name | Score | Level | Type | Top Factors |\n|---|---|---|---|---|\n")
	for _, scored := range top {
		names := make([]string, 0, len(scored.Score.Factors))
		for _, f := range scored.Score.Factors {
			names = append(names, f.Name)
		}
		fmt.Fprintf(b, "| %s | %d | %s | %s | %s |\n",
			escapeCell(scored.ServicePrincipal.DisplayName),
			scored.Score.TotalScore,
			scored.Score.RiskLevel,
			scored.ServicePrincipal.AppType,
			strings.Join(names, ", "))
	}
	b.WriteString("\n")
}

func writeShadowFindings(b *strings.Builder, findings []types.ShadowOAuthFinding) {
	b.WriteString("## Shadow OAuth Findings\n\n")
	if len(findings) == 0 {
		b.WriteString("No shadow OAuth patterns detected.\n\n")
		return
	}

	for _, f := range findings {
		fmt.Fprintf(b, "### [%s] %s\n\n", f.Severity, f.Title)
		fmt.Fprintf(b, "%s\n\n", f.Description)
		fmt.Fprintf(b, "- **Service principal:** %s (`%s`)\n", f.ServicePrincipalName, f.ServicePrincipalID)
		if len(f.AffectedScopes) > 0 {
			fmt.Fprintf(b, "- **Affected scopes:** %s\n", strings.Join(f.AffectedScopes, ", "))
		}
		if f.AffectedUserCount > 0 {
			fmt.Fprintf(b, "- **Consenting users:** %d\n", f.AffectedUserCount)
		}
		if f.Remediation != "" {
			fmt.Fprintf(b, "- **Remediation:** %s\n", f.Remediation)
		}
		b.WriteString("\n")
	}
}

func writeCredentialFindings(b *strings.Builder, findings []types.CredentialExpiryFinding) {
	b.WriteString("## Credential Expiry\n\n")
	if len(findings) == 0 {
		b.WriteString("No credentials expire within the reporting window.\n\n")
		return
	}

	b.WriteString("| App | Credential | Kind | Expires In (days) | Severity |\n|---|---|---|---|---|\n")
	for _, f := range findings {
		name := f.CredentialName
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(b, "| %s | %s | %s | %d | %s |\n",
			escapeCell(f.AppName), escapeCell(name), f.CredentialKind, f.ExpiresInDays, f.Severity)
	}
	b.WriteString("\n")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}

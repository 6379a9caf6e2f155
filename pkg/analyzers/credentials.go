package analyzers

import (
	"sort"
	"time"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// CredentialAnalyzer flags app registration credentials that are expired or
// inside the configured expiry windows.
type CredentialAnalyzer struct {
	thresholds types.Thresholds
}

// NewCredentialAnalyzer builds a credential analyzer.
func NewCredentialAnalyzer(thresholds types.Thresholds) *CredentialAnalyzer {
	return &CredentialAnalyzer{thresholds: thresholds}
}

// Analyze buckets every credential by days until expiry, relative to now.
// Credentials beyond the low threshold are excluded. Output is sorted by
// ascending days-to-expiry (expired credentials first), with app id and
// credential id breaking ties.
func (a *CredentialAnalyzer) Analyze(apps []*types.Application, now time.Time) []types.CredentialExpiryFinding {
	var findings []types.CredentialExpiryFinding
	for _, app := range apps {
		for _, cred := range app.AllCredentials() {
			days, ok := cred.DaysUntilExpiry(now)
			if !ok {
				continue
			}
			severity, flagged := a.bucket(days)
			if !flagged {
				continue
			}
			findings = append(findings, types.CredentialExpiryFinding{
				AppID:          app.AppID,
				AppName:        app.DisplayName,
				CredentialKind: cred.Kind,
				CredentialName: cred.DisplayName,
				ExpiresInDays:  days,
				ExpiryDate:     *cred.EndDateTime,
				Severity:       severity,
			})
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].ExpiresInDays != findings[j].ExpiresInDays {
			return findings[i].ExpiresInDays < findings[j].ExpiresInDays
		}
		if findings[i].AppID != findings[j].AppID {
			return findings[i].AppID < findings[j].AppID
		}
		return findings[i].CredentialName < findings[j].CredentialName
	})
	return findings
}

func (a *CredentialAnalyzer) bucket(days int) (types.Severity, bool) {
	switch {
	case days < 0:
		return types.SeverityCritical, true
	case days <= a.thresholds.CredentialExpiryCritical:
		return types.SeverityCritical, true
	case days <= a.thresholds.CredentialExpiryHigh:
		return types.SeverityHigh, true
	case days <= a.thresholds.CredentialExpiryMedium:
		return types.SeverityMedium, true
	case days <= a.thresholds.CredentialExpiryLow:
		return types.SeverityLow, true
	default:
		return "", false
	}
}

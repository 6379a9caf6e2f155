package analyzers

import (
	"fmt"
	"sort"
	"time"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// Finding type identifiers.
const (
	FindingExternalDelegatedHighImpact   = "external_delegated_high_impact"
	FindingUserConsentHighImpact         = "user_consent_high_impact"
	FindingOfflineAccessRisk             = "offline_access_risk"
	FindingInactivePrivileged            = "inactive_privileged"
	FindingOrphanedPrivileged            = "orphaned_privileged"
	FindingUnverifiedPublisherHighImpact = "unverified_publisher_high_impact"
)

const offlineAccessScope = "offline_access"

// ShadowDetector surfaces OAuth consent patterns that indicate shadow or
// abandoned application access.
type ShadowDetector struct {
	translator         PermissionTranslator
	config             types.ScanConfig
	includeRemediation bool
}

// NewShadowDetector builds a detector. Remediation text is attached to
// findings only when includeRemediation is set.
func NewShadowDetector(translator PermissionTranslator, config types.ScanConfig, includeRemediation bool) *ShadowDetector {
	return &ShadowDetector{
		translator:         translator,
		config:             config,
		includeRemediation: includeRemediation,
	}
}

// Detect runs every pattern against every service principal. First-party
// and allow-listed principals are skipped. Output is ordered by severity,
// then finding type, then principal id, so repeated runs over the same input
// produce identical output.
func (d *ShadowDetector) Detect(sps []*types.ServicePrincipal, now time.Time, signInDataAvailable bool) []types.ShadowOAuthFinding {
	var findings []types.ShadowOAuthFinding
	for _, sp := range sps {
		if sp.AppType == types.AppTypeFirstPartyMicrosoft || d.config.AllowDeny.AllowsApp(sp.AppID) {
			continue
		}
		findings = append(findings, d.detectOne(sp, now, signInDataAvailable)...)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if a, b := types.SeverityRank(findings[i].Severity), types.SeverityRank(findings[j].Severity); a != b {
			return a < b
		}
		if findings[i].FindingType != findings[j].FindingType {
			return findings[i].FindingType < findings[j].FindingType
		}
		return findings[i].ServicePrincipalID < findings[j].ServicePrincipalID
	})
	return findings
}

func (d *ShadowDetector) detectOne(sp *types.ServicePrincipal, now time.Time, signInDataAvailable bool) []types.ShadowOAuthFinding {
	var findings []types.ShadowOAuthFinding

	delegatedHigh := d.highImpact(sp.DelegatedScopes())
	userConsentedHigh := d.highImpact(sp.UserConsentedScopes())
	allHigh := d.highImpact(sp.AllPermissions())
	users := len(sp.ConsentingUsers())

	if sp.IsExternal() && len(delegatedHigh) > 0 {
		findings = append(findings, d.finding(sp, types.ShadowOAuthFinding{
			FindingType:       FindingExternalDelegatedHighImpact,
			Severity:          types.SeverityCritical,
			Title:             "External application holds high-impact delegated access",
			Description:       fmt.Sprintf("%q originates outside the tenant and has been granted high-impact delegated permissions.", sp.DisplayName),
			AffectedScopes:    delegatedHigh,
			AffectedUserCount: users,
		}, "Review the consent grants and revoke the application's delegated permissions if the vendor relationship is not recognized."))
	}

	if len(userConsentedHigh) > 0 {
		findings = append(findings, d.finding(sp, types.ShadowOAuthFinding{
			FindingType:       FindingUserConsentHighImpact,
			Severity:          types.SeverityHigh,
			Title:             "Individual users consented to high-impact permissions",
			Description:       fmt.Sprintf("High-impact permissions on %q were granted through individual user consent rather than admin review.", sp.DisplayName),
			AffectedScopes:    userConsentedHigh,
			AffectedUserCount: users,
		}, "Restrict user consent to low-impact permissions and route high-impact requests through admin consent workflow."))
	}

	if scopes := d.offlineAccessScopes(sp); len(scopes) > 0 {
		findings = append(findings, d.finding(sp, types.ShadowOAuthFinding{
			FindingType:       FindingOfflineAccessRisk,
			Severity:          types.SeverityHigh,
			Title:             "Refresh tokens paired with high-impact access",
			Description:       fmt.Sprintf("%q holds offline_access alongside high-impact permissions, so its access persists after users sign out or change passwords.", sp.DisplayName),
			AffectedScopes:    scopes,
			AffectedUserCount: users,
		}, "Revoke the offline_access grant or the application's refresh tokens, then re-consent with the minimum scopes needed."))
	}

	if signInDataAvailable && len(allHigh) > 0 && d.isInactive(sp, now) {
		findings = append(findings, d.finding(sp, types.ShadowOAuthFinding{
			FindingType:       FindingInactivePrivileged,
			Severity:          types.SeverityMedium,
			Title:             "Privileged application shows no recent activity",
			Description:       fmt.Sprintf("%q holds high-impact permissions but has not signed in within %d days.", sp.DisplayName, d.config.Thresholds.InactiveDays),
			AffectedScopes:    allHigh,
			AffectedUserCount: users,
		}, "Disable the service principal or remove its permissions; unused privileged access is pure attack surface."))
	}

	if len(allHigh) > 0 && d.isOrphaned(sp) {
		findings = append(findings, d.finding(sp, types.ShadowOAuthFinding{
			FindingType:       FindingOrphanedPrivileged,
			Severity:          types.SeverityHigh,
			Title:             "Privileged application has no owner",
			Description:       fmt.Sprintf("%q holds high-impact permissions but no owner is assigned, so no one is accountable for its access.", sp.DisplayName),
			AffectedScopes:    allHigh,
			AffectedUserCount: users,
		}, "Assign an owner, or disable the service principal until ownership is established."))
	}

	if sp.IsExternal() && !sp.HasVerifiedPublisher() && len(allHigh) > 0 {
		findings = append(findings, d.finding(sp, types.ShadowOAuthFinding{
			FindingType:       FindingUnverifiedPublisherHighImpact,
			Severity:          types.SeverityHigh,
			Title:             "Unverified publisher holds high-impact access",
			Description:       fmt.Sprintf("The publisher of %q has not completed Microsoft publisher verification yet holds high-impact permissions.", sp.DisplayName),
			AffectedScopes:    allHigh,
			AffectedUserCount: users,
		}, "Verify the vendor's identity out of band before allowing continued access, and prefer publisher-verified alternatives."))
	}

	return findings
}

func (d *ShadowDetector) finding(sp *types.ServicePrincipal, f types.ShadowOAuthFinding, remediation string) types.ShadowOAuthFinding {
	f.ServicePrincipalID = sp.ObjectID
	f.ServicePrincipalName = sp.DisplayName
	if d.includeRemediation {
		f.Remediation = remediation
	}
	return f
}

func (d *ShadowDetector) highImpact(permissions []string) []string {
	var high []string
	for _, p := range permissions {
		if d.translator.HighImpact(p) {
			high = append(high, p)
		}
	}
	return high
}

// offlineAccessScopes returns offline_access plus the high-impact delegated
// scopes it keeps alive, or nil when the pattern does not apply.
func (d *ShadowDetector) offlineAccessScopes(sp *types.ServicePrincipal) []string {
	scopes := sp.DelegatedScopes()
	hasOffline := false
	for _, s := range scopes {
		if s == offlineAccessScope {
			hasOffline = true
			break
		}
	}
	if !hasOffline {
		return nil
	}

	var high []string
	for _, s := range scopes {
		if s != offlineAccessScope && d.translator.HighImpact(s) {
			high = append(high, s)
		}
	}
	if len(high) == 0 {
		return nil
	}
	return append([]string{offlineAccessScope}, high...)
}

func (d *ShadowDetector) isInactive(sp *types.ServicePrincipal, now time.Time) bool {
	if sp.SignInActivity == nil {
		return false
	}
	days, used := sp.SignInActivity.DaysSinceActivity(now)
	if !used {
		// Never used counts as inactive.
		return true
	}
	return days >= d.config.Thresholds.InactiveDays
}

func (d *ShadowDetector) isOrphaned(sp *types.ServicePrincipal) bool {
	return !sp.HasOwners()
}

// Package analyzers turns collected directory state into risk scores and
// findings.
package analyzers

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/praetorian-inc/oauthkitchen/pkg/rules"
	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// PermissionTranslator is the slice of the rule store the analyzers need.
type PermissionTranslator interface {
	Translate(permission, defaultResource string) rules.Translation
	HighImpact(permission string) bool
}

const defaultResource = "microsoft_graph"

// Raw factor scores. Weights come from configuration; these base
// contributions are fixed.
const (
	untrustedPublisherScore = 20
	externalProvenanceScore = 15
	noOwnerScore            = 25
	inactivePrivilegedScore = 30
	neverUsedScore          = 15
	expiredCredentialScore  = 20
	criticalWindowCredScore = 15
	deniedByPolicyScore     = 100
)

// Scorer computes a multi-factor risk score per service principal. All
// weights and day thresholds come from the config; the scorer itself is
// stateless and deterministic for a fixed reference time.
type Scorer struct {
	translator PermissionTranslator
	config     types.ScanConfig
}

// NewScorer builds a scorer over a permission translator and scan config.
func NewScorer(translator PermissionTranslator, config types.ScanConfig) *Scorer {
	return &Scorer{translator: translator, config: config}
}

// Score computes the risk posture of one service principal relative to now.
// signInDataAvailable gates the inactivity factor so limited-mode scans
// never penalize principals for data that was not obtainable.
func (s *Scorer) Score(sp *types.ServicePrincipal, now time.Time, signInDataAvailable bool) *types.RiskScore {
	if s.config.AllowDeny.AllowsApp(sp.AppID) {
		return &types.RiskScore{
			TotalScore: 0,
			RiskLevel:  types.SeverityLow,
			Factors: []types.RiskFactor{{
				Name:        "allow_listed",
				Description: "Application is on the organization allow list",
				Score:       0,
				Weight:      1.0,
			}},
		}
	}

	if sp.AppType == types.AppTypeFirstPartyMicrosoft {
		return &types.RiskScore{
			TotalScore: 0,
			RiskLevel:  types.SeverityLow,
			Factors: []types.RiskFactor{{
				Name:        "first_party_microsoft",
				Description: "Microsoft first-party application",
				Score:       0,
				Weight:      1.0,
			}},
		}
	}

	var factors []types.RiskFactor

	if s.config.AllowDeny.DeniesApp(sp.AppID) {
		factors = append(factors, types.RiskFactor{
			Name:        "deny_listed",
			Description: "Application is on the organization deny list",
			Score:       deniedByPolicyScore,
			Weight:      1.0,
		})
	}

	if f, ok := s.appPermissionFactor(sp); ok {
		factors = append(factors, f)
	}
	if f, ok := s.delegatedPermissionFactor(sp); ok {
		factors = append(factors, f)
	}
	if f, ok := s.publisherFactor(sp); ok {
		factors = append(factors, f)
	}
	if f, ok := s.provenanceFactor(sp); ok {
		factors = append(factors, f)
	}
	if f, ok := s.ownerFactor(sp); ok {
		factors = append(factors, f)
	}
	if signInDataAvailable {
		if f, ok := s.inactivityFactor(sp, now); ok {
			factors = append(factors, f)
		}
	}
	if f, ok := s.credentialFactor(sp, now); ok {
		factors = append(factors, f)
	}

	total := 0.0
	for _, f := range factors {
		total += float64(f.Score) * f.Weight
	}
	rounded := int(math.Round(total))
	if rounded > 100 {
		rounded = 100
	}

	return &types.RiskScore{
		TotalScore: rounded,
		RiskLevel:  types.RiskLevelFor(rounded),
		Factors:    factors,
	}
}

// maxImpact returns the highest impact score across the permissions and the
// permission that carries it.
func (s *Scorer) maxImpact(permissions []string) (int, string) {
	max, worst := 0, ""
	for _, p := range permissions {
		if impact := s.translator.Translate(p, defaultResource).ImpactScore; impact > max {
			max, worst = impact, p
		}
	}
	return max, worst
}

func (s *Scorer) appPermissionFactor(sp *types.ServicePrincipal) (types.RiskFactor, bool) {
	roles := sp.AppRoleValues()
	if len(roles) == 0 {
		return types.RiskFactor{}, false
	}
	impact, worst := s.maxImpact(roles)
	return types.RiskFactor{
		Name:        "application_permissions",
		Description: "Application permissions operate without a signed-in user",
		Score:       impact,
		Weight:      s.config.Weights.ApplicationPermissionMultiplier,
		Details:     fmt.Sprintf("highest-impact permission: %s (%d roles held)", worst, len(roles)),
	}, true
}

func (s *Scorer) delegatedPermissionFactor(sp *types.ServicePrincipal) (types.RiskFactor, bool) {
	scopes := sp.DelegatedScopes()
	if len(scopes) == 0 {
		return types.RiskFactor{}, false
	}
	impact, worst := s.maxImpact(scopes)

	weight := s.config.Weights.DelegatedPermissionMultiplier
	desc := "Delegated permissions granted by admin consent"
	if len(sp.UserConsentedScopes()) > 0 {
		weight = s.config.Weights.UserConsentWeight
		desc = "Delegated permissions include individual user consent"
	}
	return types.RiskFactor{
		Name:        "delegated_permissions",
		Description: desc,
		Score:       impact,
		Weight:      weight,
		Details:     fmt.Sprintf("highest-impact scope: %s (%d scopes granted)", worst, len(scopes)),
	}, true
}

func (s *Scorer) publisherFactor(sp *types.ServicePrincipal) (types.RiskFactor, bool) {
	if sp.HasVerifiedPublisher() {
		return types.RiskFactor{}, false
	}
	return types.RiskFactor{
		Name:        "unverified_publisher",
		Description: "Publisher has not completed Microsoft publisher verification",
		Score:       untrustedPublisherScore,
		Weight:      s.config.Weights.NoVerifiedPublisherWeight,
	}, true
}

func (s *Scorer) provenanceFactor(sp *types.ServicePrincipal) (types.RiskFactor, bool) {
	if !sp.IsExternal() {
		return types.RiskFactor{}, false
	}
	return types.RiskFactor{
		Name:        "external_provenance",
		Description: "Application originates outside the tenant",
		Score:       externalProvenanceScore,
		Weight:      s.config.Weights.ExternalProvenanceWeight,
		Details:     string(sp.AppType),
	}, true
}

func (s *Scorer) ownerFactor(sp *types.ServicePrincipal) (types.RiskFactor, bool) {
	if sp.HasOwners() {
		return types.RiskFactor{}, false
	}
	return types.RiskFactor{
		Name:        "no_owners",
		Description: "No accountable owner is assigned",
		Score:       noOwnerScore,
		Weight:      s.config.Weights.NoOwnerWeight,
	}, true
}

// inactivityFactor fires for principals that hold permissions but have not
// signed in for more than the inactivity window. Never-used principals get a
// separate, lighter factor.
func (s *Scorer) inactivityFactor(sp *types.ServicePrincipal, now time.Time) (types.RiskFactor, bool) {
	if !sp.HasPermissions() || sp.SignInActivity == nil {
		return types.RiskFactor{}, false
	}

	days, used := sp.SignInActivity.DaysSinceActivity(now)
	if !used {
		return types.RiskFactor{
			Name:        "never_used",
			Description: "Holds permissions but no sign-in activity was ever recorded",
			Score:       neverUsedScore,
			Weight:      s.config.Weights.InactivePrivilegedWeight,
			Details:     "no sign-in activity recorded",
		}, true
	}
	if days <= s.config.Thresholds.InactiveDays {
		return types.RiskFactor{}, false
	}
	return types.RiskFactor{
		Name:        "inactive_privileged",
		Description: "Holds permissions but shows no recent sign-in activity",
		Score:       inactivePrivilegedScore,
		Weight:      s.config.Weights.InactivePrivilegedWeight,
		Details:     fmt.Sprintf("last activity %d days ago", days),
	}, true
}

func (s *Scorer) credentialFactor(sp *types.ServicePrincipal, now time.Time) (types.RiskFactor, bool) {
	app := sp.LinkedApplication
	if app == nil {
		return types.RiskFactor{}, false
	}

	expired, critical := 0, 0
	for _, cred := range app.AllCredentials() {
		days, ok := cred.DaysUntilExpiry(now)
		if !ok {
			continue
		}
		switch {
		case days < 0:
			expired++
		case days <= s.config.Thresholds.CredentialExpiryCritical:
			critical++
		}
	}
	if expired == 0 && critical == 0 {
		return types.RiskFactor{}, false
	}

	var parts []string
	if expired > 0 {
		parts = append(parts, fmt.Sprintf("%d expired", expired))
	}
	if critical > 0 {
		parts = append(parts, fmt.Sprintf("%d expiring within %d days", critical, s.config.Thresholds.CredentialExpiryCritical))
	}
	return types.RiskFactor{
		Name:        "credential_hygiene",
		Description: "App registration carries expired or imminently expiring credentials",
		Score:       expired*expiredCredentialScore + critical*criticalWindowCredScore,
		Weight:      1.0,
		Details:     strings.Join(parts, ", "),
	}, true
}

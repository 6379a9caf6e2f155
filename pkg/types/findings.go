package types

import (
	"sort"
	"time"
)

// Risk level thresholds applied to total scores.
const (
	CriticalThreshold = 80
	HighThreshold     = 60
	MediumThreshold   = 40
)

// RiskLevelFor maps a total score to its level.
func RiskLevelFor(total int) Severity {
	switch {
	case total >= CriticalThreshold:
		return SeverityCritical
	case total >= HighThreshold:
		return SeverityHigh
	case total >= MediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// RiskFactor is one independent contribution to a risk score.
type RiskFactor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       int     `json:"score"`
	Weight      float64 `json:"weight"`
	Details     string  `json:"details,omitempty"`
}

// RiskScore is the computed risk posture of one service principal.
type RiskScore struct {
	TotalScore int          `json:"totalScore"`
	RiskLevel  Severity     `json:"riskLevel"`
	Factors    []RiskFactor `json:"factors"`
}

// ShadowOAuthFinding describes one dangerous OAuth exposure pattern on a
// service principal.
type ShadowOAuthFinding struct {
	FindingType          string   `json:"findingType"`
	Severity             Severity `json:"severity"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	ServicePrincipalID   string   `json:"servicePrincipalId"`
	ServicePrincipalName string   `json:"servicePrincipalName"`
	AffectedScopes       []string `json:"affectedScopes,omitempty"`
	AffectedUserCount    int      `json:"affectedUserCount"`
	// Remediation is only populated when the detector was constructed with
	// remediation output enabled.
	Remediation string `json:"remediation,omitempty"`
}

// CredentialExpiryFinding flags an app credential approaching (or past) its
// expiry.
type CredentialExpiryFinding struct {
	AppID          string         `json:"appId"`
	AppName        string         `json:"appName"`
	CredentialKind CredentialKind `json:"credentialKind"`
	CredentialName string         `json:"credentialName,omitempty"`
	ExpiresInDays  int            `json:"expiresInDays"`
	ExpiryDate     time.Time      `json:"expiryDate"`
	Severity       Severity       `json:"severity"`
}

// ScanMode indicates whether sign-in activity data was obtainable.
type ScanMode string

const (
	ModeFull    ScanMode = "full"
	ModeLimited ScanMode = "limited"
)

// ScoredPrincipal pairs a service principal with its score for ranking.
type ScoredPrincipal struct {
	ServicePrincipal *ServicePrincipal `json:"servicePrincipal"`
	Score            *RiskScore        `json:"score"`
}

// AnalysisResult is the complete output of one scan. It is assembled once by
// the orchestrator and never mutated afterward.
type AnalysisResult struct {
	TenantID  string    `json:"tenantId"`
	ScanID    string    `json:"scanId"`
	Timestamp time.Time `json:"timestamp"`
	Mode      ScanMode  `json:"mode"`

	Applications      []*Application      `json:"applications"`
	ServicePrincipals []*ServicePrincipal `json:"servicePrincipals"`

	// RiskScores is keyed by service principal object id.
	RiskScores         map[string]*RiskScore     `json:"riskScores"`
	ShadowFindings     []ShadowOAuthFinding      `json:"shadowFindings"`
	CredentialFindings []CredentialExpiryFinding `json:"credentialFindings"`

	TotalApps                 int `json:"totalApps"`
	TotalServicePrincipals    int `json:"totalServicePrincipals"`
	CriticalCount             int `json:"criticalCount"`
	HighRiskCount             int `json:"highRiskCount"`
	AppsWithoutOwners         int `json:"appsWithoutOwners"`
	ExpiringCredentials30Days int `json:"expiringCredentials30Days"`

	SignInDataAvailable bool `json:"signInDataAvailable"`
}

// TopRiskyPrincipals returns up to n service principals ordered by
// descending total score. Ties break on object id so output is stable.
func (r *AnalysisResult) TopRiskyPrincipals(n int) []ScoredPrincipal {
	scored := make([]ScoredPrincipal, 0, len(r.ServicePrincipals))
	for _, sp := range r.ServicePrincipals {
		if score, ok := r.RiskScores[sp.ObjectID]; ok {
			scored = append(scored, ScoredPrincipal{ServicePrincipal: sp, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score.TotalScore != scored[j].Score.TotalScore {
			return scored[i].Score.TotalScore > scored[j].Score.TotalScore
		}
		return scored[i].ServicePrincipal.ObjectID < scored[j].ServicePrincipal.ObjectID
	})

	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

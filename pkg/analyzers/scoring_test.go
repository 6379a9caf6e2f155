package analyzers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/oauthkitchen/pkg/rules"
	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// fakeTranslator gives tests exact control over impact scores.
type fakeTranslator struct {
	impacts map[string]int
}

func (f *fakeTranslator) Translate(permission, defaultResource string) rules.Translation {
	impact, found := f.impacts[permission]
	if !found {
		return rules.Translation{Permission: permission, ImpactScore: rules.UnknownImpactScore}
	}
	return rules.Translation{Permission: permission, ImpactScore: impact, IsKnown: true}
}

func (f *fakeTranslator) HighImpact(permission string) bool {
	return f.impacts[permission] >= rules.HighImpactThreshold
}

var testNow = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func translatorFixture() *fakeTranslator {
	return &fakeTranslator{impacts: map[string]int{
		"Low.Scope":    20,
		"Medium.Scope": 40,
		"High.Scope":   60,
		"Crit.Scope":   80,
		"Max.Scope":    100,
	}}
}

// cleanSP returns a principal with nothing to flag: tenant-owned, verified
// publisher, owned, active.
func cleanSP() *types.ServicePrincipal {
	lastWeek := testNow.AddDate(0, 0, -7)
	return &types.ServicePrincipal{
		ObjectID:          "sp-1",
		AppID:             "client-1",
		DisplayName:       "Internal Tool",
		AppType:           types.AppTypeTenantOwned,
		VerifiedPublisher: "pub-1",
		Owners:            []types.Owner{{ObjectID: "u1", PrincipalKind: "user"}},
		SignInActivity:    &types.SignInActivity{LastSignIn: &lastWeek},
	}
}

func adminGrant(scope string) types.PermissionGrant {
	return types.PermissionGrant{ConsentType: types.ConsentAdmin, Scope: scope}
}

func userGrant(scope, principalID string) types.PermissionGrant {
	return types.PermissionGrant{ConsentType: types.ConsentUser, Scope: scope, PrincipalID: principalID}
}

func newTestScorer(cfg types.ScanConfig) *Scorer {
	return NewScorer(translatorFixture(), cfg)
}

func TestFirstPartyShortCircuits(t *testing.T) {
	sp := cleanSP()
	sp.AppType = types.AppTypeFirstPartyMicrosoft
	sp.PermissionGrants = []types.PermissionGrant{adminGrant("Max.Scope")}
	sp.Owners = nil

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	assert.Equal(t, 0, score.TotalScore)
	assert.Equal(t, types.SeverityLow, score.RiskLevel)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, "first_party_microsoft", score.Factors[0].Name)
}

func TestAllowListShortCircuits(t *testing.T) {
	cfg := types.DefaultScanConfig()
	cfg.AllowDeny.AllowedAppIDs = []string{"client-1"}

	sp := cleanSP()
	sp.AppType = types.AppTypeExternalUnknown
	sp.PermissionGrants = []types.PermissionGrant{adminGrant("Max.Scope")}

	score := newTestScorer(cfg).Score(sp, testNow, true)
	assert.Equal(t, 0, score.TotalScore)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, "allow_listed", score.Factors[0].Name)
}

func TestDenyListForcesMaxFactor(t *testing.T) {
	cfg := types.DefaultScanConfig()
	cfg.AllowDeny.DeniedAppIDs = []string{"client-1"}

	score := newTestScorer(cfg).Score(cleanSP(), testNow, true)
	assert.Equal(t, 100, score.TotalScore)
	assert.Equal(t, types.SeverityCritical, score.RiskLevel)
	require.NotEmpty(t, score.Factors)
	assert.Equal(t, "deny_listed", score.Factors[0].Name)
}

func TestDelegatedAdminConsentArithmetic(t *testing.T) {
	sp := cleanSP()
	sp.PermissionGrants = []types.PermissionGrant{adminGrant("Low.Scope High.Scope")}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	// Highest-impact scope (60) at the admin-consent weight (1.0).
	assert.Equal(t, 60, score.TotalScore)
	assert.Equal(t, types.SeverityHigh, score.RiskLevel)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, "delegated_permissions", score.Factors[0].Name)
	assert.Equal(t, 1.0, score.Factors[0].Weight)
}

func TestUserConsentRaisesDelegatedWeight(t *testing.T) {
	sp := cleanSP()
	sp.PermissionGrants = []types.PermissionGrant{
		adminGrant("High.Scope"),
		userGrant("Low.Scope", "user-1"),
	}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	// 60 × 1.2 = 72
	assert.Equal(t, 72, score.TotalScore)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, 1.2, score.Factors[0].Weight)
}

func TestApplicationPermissionMultiplier(t *testing.T) {
	sp := cleanSP()
	sp.RoleAssignments = []types.AppRoleAssignment{{AppRoleID: "r1", RoleValue: "Medium.Scope"}}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	// 40 × 1.5 = 60
	assert.Equal(t, 60, score.TotalScore)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, "application_permissions", score.Factors[0].Name)
}

func TestDefaultAccessRoleDoesNotScore(t *testing.T) {
	sp := cleanSP()
	sp.RoleAssignments = []types.AppRoleAssignment{{AppRoleID: "zero", RoleValue: types.DefaultAccessRole}}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	assert.Equal(t, 0, score.TotalScore)
	assert.Empty(t, score.Factors)
}

func TestPostureFactorsCombine(t *testing.T) {
	sp := cleanSP()
	sp.AppType = types.AppTypeThirdPartyMultiTenant
	sp.VerifiedPublisher = ""
	sp.Owners = nil

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	// unverified publisher 20×1.3 + external 15×1.2 + no owners 25×1.3
	// = 26 + 18 + 32.5 = 76.5 → 77
	assert.Equal(t, 77, score.TotalScore)
	assert.Equal(t, types.SeverityHigh, score.RiskLevel)
	assert.Len(t, score.Factors, 3)
}

func TestTotalCapsAtOneHundred(t *testing.T) {
	sp := cleanSP()
	sp.AppType = types.AppTypeExternalUnknown
	sp.VerifiedPublisher = ""
	sp.Owners = nil
	sp.PermissionGrants = []types.PermissionGrant{userGrant("Max.Scope", "user-1")}
	sp.RoleAssignments = []types.AppRoleAssignment{{AppRoleID: "r1", RoleValue: "Max.Scope"}}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	assert.Equal(t, 100, score.TotalScore)
	assert.Equal(t, types.SeverityCritical, score.RiskLevel)
}

func TestRiskLevelBoundaries(t *testing.T) {
	tests := []struct {
		impact int
		want   types.Severity
	}{
		{80, types.SeverityCritical},
		{79, types.SeverityHigh},
		{60, types.SeverityHigh},
		{59, types.SeverityMedium},
		{40, types.SeverityMedium},
		{39, types.SeverityLow},
	}

	for _, tt := range tests {
		translator := &fakeTranslator{impacts: map[string]int{"Scope": tt.impact}}
		scorer := NewScorer(translator, types.DefaultScanConfig())

		sp := cleanSP()
		sp.PermissionGrants = []types.PermissionGrant{adminGrant("Scope")}

		score := scorer.Score(sp, testNow, true)
		assert.Equal(t, tt.impact, score.TotalScore)
		assert.Equal(t, tt.want, score.RiskLevel, "impact %d", tt.impact)
	}
}

func TestInactivityFactor(t *testing.T) {
	old := testNow.AddDate(0, 0, -120)

	sp := cleanSP()
	sp.SignInActivity = &types.SignInActivity{LastSignIn: &old}
	sp.PermissionGrants = []types.PermissionGrant{adminGrant("Low.Scope")}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	// delegated 20×1.0 + inactive 30×1.4 = 62
	assert.Equal(t, 62, score.TotalScore)
	require.Len(t, score.Factors, 2)
	assert.Equal(t, "inactive_privileged", score.Factors[1].Name)
}

func TestInactivityRequiresExceedingThreshold(t *testing.T) {
	sp := cleanSP()
	sp.PermissionGrants = []types.PermissionGrant{adminGrant("Low.Scope")}

	// Exactly at the 90-day threshold: not inactive yet.
	atThreshold := testNow.AddDate(0, 0, -90)
	sp.SignInActivity = &types.SignInActivity{LastSignIn: &atThreshold}
	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, "delegated_permissions", score.Factors[0].Name)

	// One day past the threshold: inactive.
	pastThreshold := testNow.AddDate(0, 0, -91)
	sp.SignInActivity = &types.SignInActivity{LastSignIn: &pastThreshold}
	score = newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	require.Len(t, score.Factors, 2)
	assert.Equal(t, "inactive_privileged", score.Factors[1].Name)
}

func TestInactivityIgnoredWithoutSignInData(t *testing.T) {
	sp := cleanSP()
	sp.SignInActivity = nil
	sp.PermissionGrants = []types.PermissionGrant{adminGrant("Low.Scope")}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, false)
	assert.Equal(t, 20, score.TotalScore)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, "delegated_permissions", score.Factors[0].Name)
}

func TestNeverUsedGetsLighterFactor(t *testing.T) {
	sp := cleanSP()
	sp.SignInActivity = &types.SignInActivity{}
	sp.PermissionGrants = []types.PermissionGrant{adminGrant("Low.Scope")}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	// delegated 20×1.0 + never used 15×1.4 = 41
	assert.Equal(t, 41, score.TotalScore)
	require.Len(t, score.Factors, 2)
	assert.Equal(t, "never_used", score.Factors[1].Name)
	assert.Contains(t, score.Factors[1].Details, "no sign-in activity")
}

func TestOwnerFactorIgnoresLinkedApplication(t *testing.T) {
	sp := cleanSP()
	sp.Owners = nil
	sp.LinkedApplication = &types.Application{
		AppID:  "client-1",
		Owners: []types.Owner{{ObjectID: "u9", PrincipalKind: "user"}},
	}

	// The check is on the service principal's own owners collection; owners
	// on the registration do not suppress it.
	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, "no_owners", score.Factors[0].Name)
}

func TestInactivityRequiresPermissions(t *testing.T) {
	sp := cleanSP()
	sp.SignInActivity = &types.SignInActivity{}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	assert.Empty(t, score.Factors)
}

func TestCredentialHygieneFactor(t *testing.T) {
	expired := testNow.AddDate(0, 0, -10)
	imminent := testNow.Add(3*24*time.Hour + 12*time.Hour)
	healthy := testNow.AddDate(0, 0, 200)

	sp := cleanSP()
	sp.LinkedApplication = &types.Application{
		AppID: "client-1",
		PasswordCredentials: []types.Credential{
			{ID: "c1", Kind: types.CredentialPassword, EndDateTime: &expired},
			{ID: "c2", Kind: types.CredentialPassword, EndDateTime: &imminent},
			{ID: "c3", Kind: types.CredentialPassword, EndDateTime: &healthy},
		},
	}

	score := newTestScorer(types.DefaultScanConfig()).Score(sp, testNow, true)
	// 1 expired (20) + 1 in the critical window (15) at weight 1.0.
	assert.Equal(t, 35, score.TotalScore)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, "credential_hygiene", score.Factors[0].Name)
}

func TestScoringIsDeterministic(t *testing.T) {
	sp := cleanSP()
	sp.AppType = types.AppTypeThirdPartyMultiTenant
	sp.VerifiedPublisher = ""
	sp.PermissionGrants = []types.PermissionGrant{
		adminGrant("High.Scope Low.Scope"),
		userGrant("Medium.Scope", "user-1"),
	}

	scorer := newTestScorer(types.DefaultScanConfig())
	first := scorer.Score(sp, testNow, true)
	for i := 0; i < 5; i++ {
		again := scorer.Score(sp, testNow, true)
		assert.Equal(t, first.TotalScore, again.TotalScore)
		assert.Equal(t, first.Factors, again.Factors)
	}
}

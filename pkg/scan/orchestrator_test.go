package scan

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

type fakeAppSource struct {
	apps []*types.Application
	err  error
}

func (f *fakeAppSource) Collect(ctx context.Context) ([]*types.Application, error) {
	return f.apps, f.err
}

type fakeSPSource struct {
	sps []*types.ServicePrincipal
	err error

	modeSeen types.ScanMode
}

func (f *fakeSPSource) Collect(ctx context.Context) ([]*types.ServicePrincipal, error) {
	return f.sps, f.err
}

func (f *fakeSPSource) factory() ServicePrincipalFactory {
	return func(mode types.ScanMode) ServicePrincipalSource {
		f.modeSeen = mode
		return f
	}
}

type fakeScorer struct {
	scores map[string]*types.RiskScore
}

func (f *fakeScorer) Score(sp *types.ServicePrincipal, now time.Time, signInDataAvailable bool) *types.RiskScore {
	if s, found := f.scores[sp.ObjectID]; found {
		return s
	}
	return &types.RiskScore{TotalScore: 0, RiskLevel: types.SeverityLow}
}

type fakeShadow struct {
	findings []types.ShadowOAuthFinding
}

func (f *fakeShadow) Detect(sps []*types.ServicePrincipal, now time.Time, signInDataAvailable bool) []types.ShadowOAuthFinding {
	return f.findings
}

type fakeCreds struct {
	findings []types.CredentialExpiryFinding
}

func (f *fakeCreds) Analyze(apps []*types.Application, now time.Time) []types.CredentialExpiryFinding {
	return f.findings
}

func fixedClock() time.Time {
	return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
}

func baseOptions() Options {
	return Options{
		TenantID: "tenant-1",
		Mode:     types.ModeFull,
		Applications: &fakeAppSource{apps: []*types.Application{
			{ObjectID: "a1", AppID: "c1", Owners: []types.Owner{{ObjectID: "u1"}}},
			{ObjectID: "a2", AppID: "c2"},
		}},
		ServicePrincipals: (&fakeSPSource{sps: []*types.ServicePrincipal{
			{ObjectID: "sp1", AppID: "c1"},
			{ObjectID: "sp2", AppID: "c2"},
			{ObjectID: "sp3", AppID: "c3"},
		}}).factory(),
		Scorer: &fakeScorer{scores: map[string]*types.RiskScore{
			"sp1": {TotalScore: 85, RiskLevel: types.SeverityCritical},
			"sp2": {TotalScore: 65, RiskLevel: types.SeverityHigh},
			"sp3": {TotalScore: 10, RiskLevel: types.SeverityLow},
		}},
		Shadow: &fakeShadow{findings: []types.ShadowOAuthFinding{
			{FindingType: "orphaned_privileged", Severity: types.SeverityHigh, ServicePrincipalID: "sp2"},
		}},
		Credentials: &fakeCreds{findings: []types.CredentialExpiryFinding{
			{AppID: "c1", ExpiresInDays: 5, Severity: types.SeverityCritical},
			{AppID: "c2", ExpiresInDays: 45, Severity: types.SeverityMedium},
		}},
		Thresholds: types.DefaultThresholds(),
		Logger:     slog.New(slog.DiscardHandler),
		Clock:      fixedClock,
	}
}

func TestRunAssemblesResult(t *testing.T) {
	o := New(baseOptions())
	result, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", result.TenantID)
	assert.NotEmpty(t, result.ScanID)
	assert.Equal(t, fixedClock(), result.Timestamp)
	assert.Equal(t, types.ModeFull, result.Mode)
	assert.True(t, result.SignInDataAvailable)

	assert.Equal(t, 2, result.TotalApps)
	assert.Equal(t, 3, result.TotalServicePrincipals)
	assert.Equal(t, 1, result.CriticalCount)
	assert.Equal(t, 1, result.HighRiskCount)
	assert.Equal(t, 1, result.AppsWithoutOwners)
	// Only the 5-day credential falls inside the 30-day window.
	assert.Equal(t, 1, result.ExpiringCredentials30Days)

	require.Len(t, result.RiskScores, 3)
	assert.Equal(t, 85, result.RiskScores["sp1"].TotalScore)
}

func TestRunReportsProgressPerStage(t *testing.T) {
	opts := baseOptions()
	opts.Probe = func(ctx context.Context) types.ScanMode { return types.ModeFull }
	opts.LoadRules = func(ctx context.Context) {}
	var stages []string
	opts.Progress = func(stage string) { stages = append(stages, stage) }

	_, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, stages, 7)
	assert.Contains(t, stages[0], "capabilities")
	assert.Contains(t, stages[1], "rules")
	assert.Contains(t, stages[2], "application")
	assert.Contains(t, stages[3], "service principals")
	assert.Contains(t, stages[4], "Scoring")
	assert.Contains(t, stages[5], "shadow")
	assert.Contains(t, stages[6], "credential")
}

func TestProbeDecidesMode(t *testing.T) {
	source := &fakeSPSource{sps: []*types.ServicePrincipal{{ObjectID: "sp1", AppID: "c1"}}}

	opts := baseOptions()
	opts.Mode = types.ModeFull
	opts.ServicePrincipals = source.factory()
	opts.Probe = func(ctx context.Context) types.ScanMode { return types.ModeLimited }

	result, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeLimited, result.Mode)
	assert.False(t, result.SignInDataAvailable)
	assert.Equal(t, types.ModeLimited, source.modeSeen)
}

func TestRunLinksApplications(t *testing.T) {
	opts := baseOptions()
	linked := false
	opts.Link = func(apps []*types.Application, sps []*types.ServicePrincipal) {
		linked = true
		assert.Len(t, apps, 2)
		assert.Len(t, sps, 3)
	}

	_, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, linked)
}

func TestRunAbortsOnCollectionFailure(t *testing.T) {
	opts := baseOptions()
	opts.Applications = &fakeAppSource{err: errors.New("throttled beyond retries")}

	_, err := New(opts).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect applications")

	opts = baseOptions()
	opts.ServicePrincipals = (&fakeSPSource{err: errors.New("forbidden")}).factory()
	_, err = New(opts).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect service principals")
}

func TestRunLimitedModeDisablesSignInData(t *testing.T) {
	opts := baseOptions()
	opts.Mode = types.ModeLimited

	result, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeLimited, result.Mode)
	assert.False(t, result.SignInDataAvailable)
}

func TestScanIDsAreUnique(t *testing.T) {
	o := New(baseOptions())
	first, err := o.Run(context.Background())
	require.NoError(t, err)
	second, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ScanID, second.ScanID)
}

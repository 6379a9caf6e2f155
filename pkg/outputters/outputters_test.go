package outputters

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

func resultFixture() *types.AnalysisResult {
	expiry := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return &types.AnalysisResult{
		TenantID:  "tenant-1",
		ScanID:    "scan-1",
		Timestamp: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		Mode:      types.ModeFull,
		ServicePrincipals: []*types.ServicePrincipal{
			{
				ObjectID:    "sp-1",
				AppID:       "client-1",
				DisplayName: "Mail | Reader",
				AppType:     types.AppTypeThirdPartyMultiTenant,
				PermissionGrants: []types.PermissionGrant{
					{ConsentType: types.ConsentUser, Scope: "Mail.ReadWrite offline_access", PrincipalID: "u1"},
				},
			},
			{
				ObjectID:    "sp-2",
				AppID:       "client-2",
				DisplayName: "Internal Tool",
				AppType:     types.AppTypeTenantOwned,
			},
		},
		RiskScores: map[string]*types.RiskScore{
			"sp-1": {
				TotalScore: 88,
				RiskLevel:  types.SeverityCritical,
				Factors:    []types.RiskFactor{{Name: "delegated_permissions", Score: 70, Weight: 1.2}},
			},
			"sp-2": {TotalScore: 5, RiskLevel: types.SeverityLow},
		},
		ShadowFindings: []types.ShadowOAuthFinding{
			{
				FindingType:          "external_delegated_high_impact",
				Severity:             types.SeverityCritical,
				Title:                "External application holds high-impact delegated access",
				Description:          "desc",
				ServicePrincipalID:   "sp-1",
				ServicePrincipalName: "Mail | Reader",
				AffectedScopes:       []string{"Mail.ReadWrite"},
				AffectedUserCount:    1,
				Remediation:          "Revoke the grant.",
			},
		},
		CredentialFindings: []types.CredentialExpiryFinding{
			{
				AppID:          "client-1",
				AppName:        "Mail | Reader",
				CredentialKind: types.CredentialPassword,
				ExpiresInDays:  8,
				ExpiryDate:     expiry,
				Severity:       types.SeverityHigh,
			},
		},
		TotalApps:                 2,
		TotalServicePrincipals:    2,
		CriticalCount:             1,
		ExpiringCredentials30Days: 1,
		SignInDataAvailable:       true,
	}
}

func TestWriteJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, resultFixture()))

	var decoded types.AnalysisResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "tenant-1", decoded.TenantID)
	assert.Equal(t, 88, decoded.RiskScores["sp-1"].TotalScore)
	require.Len(t, decoded.ShadowFindings, 1)
	assert.Equal(t, types.SeverityCritical, decoded.ShadowFindings[0].Severity)
}

func TestWriteMarkdownSections(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, resultFixture()))
	report := buf.String()

	assert.Contains(t, report, "# OAuth Posture Report")
	assert.Contains(t, report, "## Summary")
	assert.Contains(t, report, "## Riskiest Service Principals")
	assert.Contains(t, report, "## Shadow OAuth Findings")
	assert.Contains(t, report, "## Credential Expiry")
	assert.Contains(t, report, "**Remediation:** Revoke the grant.")
	// Pipes in display names must not break table cells.
	assert.Contains(t, report, "Mail \\| Reader")
}

func TestWriteMarkdownLimitedModeNote(t *testing.T) {
	result := resultFixture()
	result.Mode = types.ModeLimited
	result.SignInDataAvailable = false

	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, result))
	assert.Contains(t, buf.String(), "inactivity checks were skipped")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, resultFixture()))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "ObjectID", rows[0][0])
	assert.Equal(t, "sp-1", rows[1][0])
	assert.Equal(t, "88", rows[1][4])
	assert.Equal(t, "Critical", rows[1][5])
	assert.Equal(t, "external_delegated_high_impact", rows[1][7])
	assert.Equal(t, "Mail.ReadWrite;offline_access", rows[1][8])
	assert.Equal(t, "0", rows[2][10])
}

func TestWriteCredentialCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCredentialCSV(&buf, resultFixture().CredentialFindings))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "client-1", rows[1][0])
	assert.Equal(t, "8", rows[1][4])
	assert.Equal(t, "2026-09-01", rows[1][5])
}

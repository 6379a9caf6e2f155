package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

func TestWriteResultCSVIncludesCredentialFindings(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "scan.csv")

	old := scanFlags
	defer func() { scanFlags = old }()
	scanFlags.output = out
	scanFlags.format = "csv"

	result := &types.AnalysisResult{
		TenantID: "tenant-1",
		ServicePrincipals: []*types.ServicePrincipal{
			{ObjectID: "sp1", AppID: "c1", DisplayName: "Payroll Sync"},
		},
		RiskScores: map[string]*types.RiskScore{
			"sp1": {TotalScore: 40, RiskLevel: types.SeverityMedium},
		},
		CredentialFindings: []types.CredentialExpiryFinding{{
			AppID:          "c1",
			AppName:        "Payroll Sync",
			CredentialKind: types.CredentialPassword,
			CredentialName: "ci secret",
			ExpiresInDays:  5,
			ExpiryDate:     time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
			Severity:       types.SeverityCritical,
		}},
	}

	require.NoError(t, writeResult(result))

	scores, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(scores), "sp1")

	creds, err := os.ReadFile(filepath.Join(dir, "scan-credentials.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(creds), "ci secret")
	assert.Contains(t, string(creds), "2026-08-28")
	assert.Contains(t, string(creds), string(types.SeverityCritical))
}

func TestCredentialCSVPath(t *testing.T) {
	assert.Equal(t, "scan-credentials.csv", credentialCSVPath("scan.csv"))
	assert.Equal(t, filepath.Join("out", "report-credentials.csv"), credentialCSVPath(filepath.Join("out", "report.csv")))
	assert.Equal(t, "scan-credentials", credentialCSVPath("scan"))
}

package outputters

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// WriteCSV renders one row per service principal with its score and the
// findings that reference it, suitable for spreadsheet triage.
func WriteCSV(w io.Writer, result *types.AnalysisResult) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{
		"ObjectID",
		"DisplayName",
		"AppID",
		"AppType",
		"RiskScore",
		"RiskLevel",
		"Factors",
		"FindingTypes",
		"DelegatedScopes",
		"AppRoles",
		"ConsentingUsers",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	findingsBySP := make(map[string][]string)
	for _, f := range result.ShadowFindings {
		findingsBySP[f.ServicePrincipalID] = append(findingsBySP[f.ServicePrincipalID], f.FindingType)
	}

	for _, sp := range result.ServicePrincipals {
		score := result.RiskScores[sp.ObjectID]
		total, level := 0, types.SeverityLow
		var factors []string
		if score != nil {
			total, level = score.TotalScore, score.RiskLevel
			for _, f := range score.Factors {
				factors = append(factors, f.Name)
			}
		}

		row := []string{
			sp.ObjectID,
			sp.DisplayName,
			sp.AppID,
			string(sp.AppType),
			strconv.Itoa(total),
			string(level),
			strings.Join(factors, ";"),
			strings.Join(findingsBySP[sp.ObjectID], ";"),
			strings.Join(sp.DelegatedScopes(), ";"),
			strings.Join(sp.AppRoleValues(), ";"),
			strconv.Itoa(len(sp.ConsentingUsers())),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", sp.ObjectID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCredentialCSV renders the credential expiry findings.
func WriteCredentialCSV(w io.Writer, findings []types.CredentialExpiryFinding) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"AppID", "AppName", "Kind", "CredentialName", "ExpiresInDays", "ExpiryDate", "Severity"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, f := range findings {
		row := []string{
			f.AppID,
			f.AppName,
			string(f.CredentialKind),
			f.CredentialName,
			strconv.Itoa(f.ExpiresInDays),
			f.ExpiryDate.Format("2006-01-02"),
			string(f.Severity),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/praetorian-inc/oauthkitchen/internal/helpers"
	"github.com/praetorian-inc/oauthkitchen/internal/message"
	"github.com/praetorian-inc/oauthkitchen/pkg/analyzers"
	"github.com/praetorian-inc/oauthkitchen/pkg/collectors"
	"github.com/praetorian-inc/oauthkitchen/pkg/graph"
	"github.com/praetorian-inc/oauthkitchen/pkg/outputters"
	"github.com/praetorian-inc/oauthkitchen/pkg/rules"
	"github.com/praetorian-inc/oauthkitchen/pkg/scan"
	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

var scanFlags struct {
	tenantID           string
	clientID           string
	clientSecret       string
	certificate        string
	deviceCode         bool
	output             string
	format             string
	rulesFile          string
	includeRemediation bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a tenant's OAuth consent posture",
	Long: `Scan collects the tenant's app registrations, service principals,
consent grants and app role assignments, scores each service principal, and
reports shadow OAuth patterns and expiring credentials.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanFlags.tenantID, "tenant", "t", "", "Entra tenant ID to scan (required)")
	scanCmd.Flags().StringVarP(&scanFlags.clientID, "client-id", "c", "", "client ID of the app registration used to authenticate")
	scanCmd.Flags().StringVar(&scanFlags.clientSecret, "client-secret", "", "client secret for app-only authentication")
	scanCmd.Flags().StringVar(&scanFlags.certificate, "certificate", "", "path to a certificate for app-only authentication")
	scanCmd.Flags().BoolVar(&scanFlags.deviceCode, "device-code", false, "allow device-code sign-in when silent authentication requires interaction")
	scanCmd.Flags().StringVarP(&scanFlags.output, "output", "o", "", "file to write results to (default: stdout)")
	scanCmd.Flags().StringVarP(&scanFlags.format, "format", "f", "json", "output format: json, markdown or csv")
	scanCmd.Flags().StringVar(&scanFlags.rulesFile, "rules-file", "", "permission rules document to use instead of the bundled one")
	scanCmd.Flags().BoolVar(&scanFlags.includeRemediation, "include-remediation", false, "attach remediation guidance to findings")
	scanCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	message.Banner()
	logger := slog.Default()
	ctx := context.Background()

	silent, interactive, err := helpers.BuildCredentials(helpers.CredentialOptions{
		TenantID:        scanFlags.tenantID,
		ClientID:        scanFlags.clientID,
		ClientSecret:    scanFlags.clientSecret,
		CertificatePath: scanFlags.certificate,
		DeviceCode:      scanFlags.deviceCode,
	})
	if err != nil {
		return err
	}

	broker, err := graph.NewCredentialBroker(silent, interactive, logger)
	if err != nil {
		return err
	}
	client := graph.NewClient(broker, logger)

	store := rules.NewStore(logger)
	if scanFlags.rulesFile != "" {
		store = rules.NewStoreFromFile(scanFlags.rulesFile, logger)
	}

	config := scanConfigFromViper()
	config.IncludeRemediation = scanFlags.includeRemediation

	orchestrator := scan.New(scan.Options{
		TenantID: scanFlags.tenantID,
		Probe: func(ctx context.Context) types.ScanMode {
			mode := client.DetectCapabilities(ctx)
			if mode == types.ModeLimited {
				message.Warning("Sign-in activity is not readable with the granted permissions; running in limited mode")
			}
			return mode
		},
		LoadRules:    store.Load,
		Applications: collectors.NewApplicationCollector(client, logger),
		ServicePrincipals: func(mode types.ScanMode) scan.ServicePrincipalSource {
			return collectors.NewServicePrincipalCollector(client, scanFlags.tenantID, mode, logger)
		},
		Scorer:      analyzers.NewScorer(store, config),
		Shadow:      analyzers.NewShadowDetector(store, config, scanFlags.includeRemediation),
		Credentials: analyzers.NewCredentialAnalyzer(config.Thresholds),
		Link:        collectors.LinkApplications,
		Thresholds:  config.Thresholds,
		Progress:    func(stage string) { message.Info("%s", stage) },
		Logger:      logger,
	})

	result, err := orchestrator.Run(ctx)
	if err != nil {
		return err
	}

	message.Success("Scan complete: %d service principals, %d critical, %d high risk",
		result.TotalServicePrincipals, result.CriticalCount, result.HighRiskCount)

	return writeResult(result)
}

// scanConfigFromViper starts from defaults and applies overrides from the
// config file (scoring weights, thresholds, allow/deny lists).
func scanConfigFromViper() types.ScanConfig {
	config := types.DefaultScanConfig()
	if err := viper.UnmarshalKey("scan", &config); err != nil {
		message.Warning("Ignoring malformed scan config: %s", err)
		return types.DefaultScanConfig()
	}
	return config
}

func writeResult(result *types.AnalysisResult) error {
	var w io.Writer = os.Stdout
	if scanFlags.output != "" {
		f, err := os.Create(scanFlags.output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch scanFlags.format {
	case "json":
		if err := outputters.WriteJSON(w, result); err != nil {
			return err
		}
	case "markdown", "md":
		if err := outputters.WriteMarkdown(w, result); err != nil {
			return err
		}
	case "csv":
		if err := outputters.WriteCSV(w, result); err != nil {
			return err
		}
		if err := writeCredentialCSV(result); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown output format %q (expected json, markdown or csv)", scanFlags.format)
	}

	if scanFlags.output != "" {
		message.Success("Results written to %s", scanFlags.output)
	}
	return nil
}

// writeCredentialCSV emits the credential expiry findings as a second CSV
// document, since they do not fit the per-principal row shape. With --output
// set they land in a sibling file; on stdout they follow after a blank line.
func writeCredentialCSV(result *types.AnalysisResult) error {
	if scanFlags.output == "" {
		fmt.Println()
		return outputters.WriteCredentialCSV(os.Stdout, result.CredentialFindings)
	}

	path := credentialCSVPath(scanFlags.output)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create credential output file: %w", err)
	}
	defer f.Close()

	if err := outputters.WriteCredentialCSV(f, result.CredentialFindings); err != nil {
		return err
	}
	message.Success("Credential findings written to %s", path)
	return nil
}

// credentialCSVPath derives the sibling file name, e.g. scan.csv becomes
// scan-credentials.csv.
func credentialCSVPath(output string) string {
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + "-credentials" + ext
}

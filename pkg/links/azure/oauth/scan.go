package oauth

import (
	"fmt"

	"github.com/praetorian-inc/janus-framework/pkg/chain"
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"

	"github.com/praetorian-inc/oauthkitchen/internal/message"
	"github.com/praetorian-inc/oauthkitchen/pkg/analyzers"
	"github.com/praetorian-inc/oauthkitchen/pkg/collectors"
	"github.com/praetorian-inc/oauthkitchen/pkg/links/options"
	"github.com/praetorian-inc/oauthkitchen/pkg/outputters"
	"github.com/praetorian-inc/oauthkitchen/pkg/rules"
	"github.com/praetorian-inc/oauthkitchen/pkg/scan"
	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// ScanLink runs the posture scan against the tenant the auth link connected
// to and emits the analysis result.
type ScanLink struct {
	*chain.Base
}

func NewScanLink(configs ...cfg.Config) chain.Link {
	l := &ScanLink{}
	l.Base = chain.NewBase(l, configs...)
	return l
}

func (l *ScanLink) Params() []cfg.Param {
	return []cfg.Param{
		options.OAuthRulesFile(),
		options.OAuthIncludeRemediation(),
		options.OAuthOutputFile(),
	}
}

func (l *ScanLink) Process(input any) error {
	scanCtx, ok := input.(*ScanContext)
	if !ok {
		return fmt.Errorf("expected *ScanContext, got %T", input)
	}

	includeRemediation, _ := cfg.As[bool](l.Arg("include-remediation"))
	rulesFile, _ := cfg.As[string](l.Arg("rules-file"))
	outputFile, _ := cfg.As[string](l.Arg("output"))

	store := rules.NewStore(l.Logger)
	if rulesFile != "" {
		store = rules.NewStoreFromFile(rulesFile, l.Logger)
	}

	config := types.DefaultScanConfig()
	config.IncludeRemediation = includeRemediation

	orchestrator := scan.New(scan.Options{
		TenantID:     scanCtx.TenantID,
		Probe:        scanCtx.Client.DetectCapabilities,
		LoadRules:    store.Load,
		Applications: collectors.NewApplicationCollector(scanCtx.Client, l.Logger),
		ServicePrincipals: func(mode types.ScanMode) scan.ServicePrincipalSource {
			return collectors.NewServicePrincipalCollector(scanCtx.Client, scanCtx.TenantID, mode, l.Logger)
		},
		Scorer:      analyzers.NewScorer(store, config),
		Shadow:      analyzers.NewShadowDetector(store, config, includeRemediation),
		Credentials: analyzers.NewCredentialAnalyzer(config.Thresholds),
		Link:        collectors.LinkApplications,
		Thresholds:  config.Thresholds,
		Progress:    func(stage string) { message.Info("%s", stage) },
		Logger:      l.Logger,
	})

	result, err := orchestrator.Run(l.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	return l.Send(outputters.NamedOutputData{
		OutputFilename: outputFile,
		Data:           result,
	})
}

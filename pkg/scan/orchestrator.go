// Package scan coordinates collection and analysis into a single tenant
// posture result.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// ApplicationSource yields the tenant's app registrations.
type ApplicationSource interface {
	Collect(ctx context.Context) ([]*types.Application, error)
}

// ServicePrincipalSource yields the tenant's service principals, enriched.
type ServicePrincipalSource interface {
	Collect(ctx context.Context) ([]*types.ServicePrincipal, error)
}

// ServicePrincipalFactory builds the service principal source once the scan
// mode is known. The mode decides whether sign-in activity is requested.
type ServicePrincipalFactory func(mode types.ScanMode) ServicePrincipalSource

// CapabilityProbe determines what the granted permissions allow.
type CapabilityProbe func(ctx context.Context) types.ScanMode

// RuleLoader readies the permission rule store before analysis.
type RuleLoader func(ctx context.Context)

// RiskScorer scores one service principal.
type RiskScorer interface {
	Score(sp *types.ServicePrincipal, now time.Time, signInDataAvailable bool) *types.RiskScore
}

// ShadowFinder detects shadow OAuth patterns across service principals.
type ShadowFinder interface {
	Detect(sps []*types.ServicePrincipal, now time.Time, signInDataAvailable bool) []types.ShadowOAuthFinding
}

// CredentialChecker flags expiring app credentials.
type CredentialChecker interface {
	Analyze(apps []*types.Application, now time.Time) []types.CredentialExpiryFinding
}

// Linker attaches service principals to their app registrations.
type Linker func(apps []*types.Application, sps []*types.ServicePrincipal)

// Progress is invoked before each stage with a human-readable label.
type Progress func(stage string)

// Orchestrator wires the collectors and analyzers into one scan. Every
// dependency is injected; the orchestrator owns only sequencing and
// aggregation.
type Orchestrator struct {
	tenantID string
	mode     types.ScanMode

	probe     CapabilityProbe
	loadRules RuleLoader
	apps      ApplicationSource
	sps       ServicePrincipalFactory
	scorer    RiskScorer
	shadow    ShadowFinder
	creds     CredentialChecker
	link      Linker
	progress  Progress
	logger    *slog.Logger

	thresholds types.Thresholds
	clock      func() time.Time
}

// Options carries the orchestrator's injected dependencies.
type Options struct {
	TenantID string
	// Mode is the scan mode to run with when Probe is nil.
	Mode types.ScanMode

	// Probe, when set, runs as the first stage and decides the scan mode.
	Probe CapabilityProbe
	// LoadRules, when set, runs before collection to ready the rule store.
	LoadRules RuleLoader

	Applications      ApplicationSource
	ServicePrincipals ServicePrincipalFactory
	Scorer            RiskScorer
	Shadow            ShadowFinder
	Credentials       CredentialChecker
	Link              Linker

	Thresholds types.Thresholds
	Progress   Progress
	Logger     *slog.Logger
	Clock      func() time.Time
}

// New builds an orchestrator from its dependencies.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Progress == nil {
		opts.Progress = func(string) {}
	}
	if opts.Link == nil {
		opts.Link = func([]*types.Application, []*types.ServicePrincipal) {}
	}
	return &Orchestrator{
		tenantID:   opts.TenantID,
		mode:       opts.Mode,
		probe:      opts.Probe,
		loadRules:  opts.LoadRules,
		apps:       opts.Applications,
		sps:        opts.ServicePrincipals,
		scorer:     opts.Scorer,
		shadow:     opts.Shadow,
		creds:      opts.Credentials,
		link:       opts.Link,
		progress:   opts.Progress,
		logger:     opts.Logger,
		thresholds: opts.Thresholds,
		clock:      opts.Clock,
	}
}

// Run executes the scan. Every finding in the result is computed against a
// single reference instant captured at the start, so the output is
// reproducible for that instant. A stage failure aborts the scan.
func (o *Orchestrator) Run(ctx context.Context) (*types.AnalysisResult, error) {
	now := o.clock()
	scanID := uuid.NewString()

	mode := o.mode
	if o.probe != nil {
		o.progress("Probing directory capabilities")
		mode = o.probe(ctx)
	}
	signInDataAvailable := mode == types.ModeFull

	o.logger.Info("starting scan", "scanId", scanID, "tenantId", o.tenantID, "mode", mode)

	if o.loadRules != nil {
		o.progress("Loading permission rules")
		o.loadRules(ctx)
	}

	o.progress("Collecting application registrations")
	apps, err := o.apps.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect applications: %w", err)
	}

	o.progress("Collecting service principals and consent grants")
	sps, err := o.sps(mode).Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect service principals: %w", err)
	}
	o.link(apps, sps)

	o.progress("Scoring service principals")
	scores := make(map[string]*types.RiskScore, len(sps))
	for _, sp := range sps {
		scores[sp.ObjectID] = o.scorer.Score(sp, now, signInDataAvailable)
	}

	o.progress("Detecting shadow OAuth patterns")
	shadowFindings := o.shadow.Detect(sps, now, signInDataAvailable)

	o.progress("Analyzing credential expiry")
	credFindings := o.creds.Analyze(apps, now)

	result := &types.AnalysisResult{
		TenantID:               o.tenantID,
		ScanID:                 scanID,
		Timestamp:              now,
		Mode:                   mode,
		Applications:           apps,
		ServicePrincipals:      sps,
		RiskScores:             scores,
		ShadowFindings:         shadowFindings,
		CredentialFindings:     credFindings,
		TotalApps:              len(apps),
		TotalServicePrincipals: len(sps),
		SignInDataAvailable:    signInDataAvailable,
	}
	o.aggregate(result)

	o.logger.Info("scan complete",
		"scanId", scanID,
		"servicePrincipals", result.TotalServicePrincipals,
		"critical", result.CriticalCount,
		"high", result.HighRiskCount,
		"shadowFindings", len(shadowFindings),
		"credentialFindings", len(credFindings))
	return result, nil
}

func (o *Orchestrator) aggregate(r *types.AnalysisResult) {
	for _, score := range r.RiskScores {
		switch score.RiskLevel {
		case types.SeverityCritical:
			r.CriticalCount++
		case types.SeverityHigh:
			r.HighRiskCount++
		}
	}
	for _, app := range r.Applications {
		if !app.HasOwners() {
			r.AppsWithoutOwners++
		}
	}
	for _, f := range r.CredentialFindings {
		if f.ExpiresInDays <= o.thresholds.CredentialExpiryHigh {
			r.ExpiringCredentials30Days++
		}
	}
}

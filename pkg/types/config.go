package types

// ScoringWeights holds the externally configurable multipliers used by the
// risk scorer. None of these may be hardcoded inside the scoring routine.
type ScoringWeights struct {
	ApplicationPermissionMultiplier float64 `yaml:"application_permission_multiplier" mapstructure:"application_permission_multiplier"`
	DelegatedPermissionMultiplier   float64 `yaml:"delegated_permission_multiplier" mapstructure:"delegated_permission_multiplier"`
	UserConsentWeight               float64 `yaml:"user_consent_weight" mapstructure:"user_consent_weight"`
	NoVerifiedPublisherWeight       float64 `yaml:"no_verified_publisher_weight" mapstructure:"no_verified_publisher_weight"`
	ExternalProvenanceWeight        float64 `yaml:"external_provenance_weight" mapstructure:"external_provenance_weight"`
	NoOwnerWeight                   float64 `yaml:"no_owner_weight" mapstructure:"no_owner_weight"`
	InactivePrivilegedWeight        float64 `yaml:"inactive_privileged_weight" mapstructure:"inactive_privileged_weight"`
}

// DefaultScoringWeights returns the default multipliers.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		ApplicationPermissionMultiplier: 1.5,
		DelegatedPermissionMultiplier:   1.0,
		UserConsentWeight:               1.2,
		NoVerifiedPublisherWeight:       1.3,
		ExternalProvenanceWeight:        1.2,
		NoOwnerWeight:                   1.3,
		InactivePrivilegedWeight:        1.4,
	}
}

// Thresholds holds the day-count boundaries used by the credential expiry
// analyzer and the inactivity checks.
type Thresholds struct {
	CredentialExpiryCritical int `yaml:"credential_expiry_critical" mapstructure:"credential_expiry_critical"`
	CredentialExpiryHigh     int `yaml:"credential_expiry_high" mapstructure:"credential_expiry_high"`
	CredentialExpiryMedium   int `yaml:"credential_expiry_medium" mapstructure:"credential_expiry_medium"`
	CredentialExpiryLow      int `yaml:"credential_expiry_low" mapstructure:"credential_expiry_low"`
	InactiveDays             int `yaml:"inactive_days" mapstructure:"inactive_days"`
}

// DefaultThresholds returns the default day-count boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CredentialExpiryCritical: 7,
		CredentialExpiryHigh:     30,
		CredentialExpiryMedium:   60,
		CredentialExpiryLow:      90,
		InactiveDays:             90,
	}
}

// AllowDeny carries app ids that short-circuit or force scoring.
type AllowDeny struct {
	// AllowedAppIDs score 0 and are skipped by the shadow detector.
	AllowedAppIDs []string `yaml:"allowed_app_ids" mapstructure:"allowed_app_ids"`
	// DeniedAppIDs always receive a maximum-score factor.
	DeniedAppIDs []string `yaml:"denied_app_ids" mapstructure:"denied_app_ids"`
}

// AllowsApp reports whether the app id is on the allow list.
func (ad AllowDeny) AllowsApp(appID string) bool {
	return containsString(ad.AllowedAppIDs, appID)
}

// DeniesApp reports whether the app id is on the deny list.
func (ad AllowDeny) DeniesApp(appID string) bool {
	return containsString(ad.DeniedAppIDs, appID)
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ScanConfig is the analysis configuration consumed by the scorer, detector
// and orchestrator. Zero value is not usable; construct with
// DefaultScanConfig and override from flags or a config file.
type ScanConfig struct {
	Weights    ScoringWeights `yaml:"scoring" mapstructure:"scoring"`
	Thresholds Thresholds     `yaml:"thresholds" mapstructure:"thresholds"`
	AllowDeny  AllowDeny      `yaml:"allow_deny" mapstructure:"allow_deny"`

	// IncludeRemediation controls whether findings carry remediation text.
	IncludeRemediation bool `yaml:"include_remediation" mapstructure:"include_remediation"`
}

// DefaultScanConfig returns a config with all default weights and
// thresholds.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Weights:    DefaultScoringWeights(),
		Thresholds: DefaultThresholds(),
	}
}

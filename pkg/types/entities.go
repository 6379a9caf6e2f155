package types

import (
	"strings"
	"time"

	u "github.com/mpvl/unique"
)

// CredentialKind is the kind of credential attached to an app registration.
type CredentialKind string

const (
	CredentialPassword    CredentialKind = "password"
	CredentialCertificate CredentialKind = "certificate"
)

// ConsentType describes how a delegated permission grant was consented.
type ConsentType string

const (
	ConsentAdmin   ConsentType = "admin"
	ConsentUser    ConsentType = "user"
	ConsentUnknown ConsentType = "unknown"
)

// AppType classifies the provenance of a service principal. It is derived
// once at collection time and never re-derived downstream.
type AppType string

const (
	AppTypeFirstPartyMicrosoft   AppType = "first_party_microsoft"
	AppTypeTenantOwned           AppType = "tenant_owned"
	AppTypeThirdPartyMultiTenant AppType = "third_party_multi_tenant"
	AppTypeExternalUnknown       AppType = "external_unknown"
)

// RiskCategory buckets a permission by the class of abuse it enables.
type RiskCategory string

const (
	CategoryReadOnly            RiskCategory = "read_only"
	CategoryDataExfiltration    RiskCategory = "data_exfiltration"
	CategoryPrivilegeEscalation RiskCategory = "privilege_escalation"
	CategoryTenantTakeover      RiskCategory = "tenant_takeover"
	CategoryPersistence         RiskCategory = "persistence"
	CategoryLateralMovement     RiskCategory = "lateral_movement"
	CategoryUnknown             RiskCategory = "unknown"
)

// Severity levels used by findings and credential expiry buckets.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// SeverityRank returns a numeric priority for sorting (lower = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Credential is a password or certificate credential on an app registration.
type Credential struct {
	ID            string         `json:"id"`
	Kind          CredentialKind `json:"kind"`
	DisplayName   string         `json:"displayName,omitempty"`
	StartDateTime *time.Time     `json:"startDateTime,omitempty"`
	EndDateTime   *time.Time     `json:"endDateTime,omitempty"`
}

// DaysUntilExpiry returns the signed number of whole days until the
// credential expires, relative to now. ok is false when no expiry is set.
func (c *Credential) DaysUntilExpiry(now time.Time) (days int, ok bool) {
	if c.EndDateTime == nil {
		return 0, false
	}
	return int(c.EndDateTime.Sub(now).Hours() / 24), true
}

// IsExpired reports whether the credential expiry has already passed.
func (c *Credential) IsExpired(now time.Time) bool {
	days, ok := c.DaysUntilExpiry(now)
	return ok && days < 0
}

// Owner of an application or service principal.
type Owner struct {
	ObjectID          string `json:"objectId"`
	DisplayName       string `json:"displayName,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	// PrincipalKind is "user" for user owners, "other" for anything else.
	PrincipalKind string `json:"principalKind"`
}

// Application is an app registration: the global identity object holding
// credentials and owner metadata. Immutable for the lifetime of a scan.
type Application struct {
	ObjectID        string     `json:"objectId"`
	AppID           string     `json:"appId"`
	DisplayName     string     `json:"displayName"`
	CreatedDateTime *time.Time `json:"createdDateTime,omitempty"`

	PublisherDomain   string `json:"publisherDomain,omitempty"`
	VerifiedPublisher string `json:"verifiedPublisherId,omitempty"`
	SignInAudience    string `json:"signInAudience,omitempty"`

	PasswordCredentials []Credential `json:"passwordCredentials,omitempty"`
	KeyCredentials      []Credential `json:"keyCredentials,omitempty"`

	Owners []Owner `json:"owners,omitempty"`
	Notes  string  `json:"notes,omitempty"`
}

// HasVerifiedPublisher reports whether the registration carries a verified
// publisher attestation.
func (a *Application) HasVerifiedPublisher() bool {
	return a.VerifiedPublisher != ""
}

// HasOwners reports whether the owners collection is non-empty.
func (a *Application) HasOwners() bool {
	return len(a.Owners) > 0
}

// AllCredentials returns password and certificate credentials together.
func (a *Application) AllCredentials() []Credential {
	creds := make([]Credential, 0, len(a.PasswordCredentials)+len(a.KeyCredentials))
	creds = append(creds, a.PasswordCredentials...)
	creds = append(creds, a.KeyCredentials...)
	return creds
}

// IsMultiTenant reports whether the sign-in audience admits users outside
// the registering tenant.
func (a *Application) IsMultiTenant() bool {
	switch a.SignInAudience {
	case "AzureADMultipleOrgs", "AzureADandPersonalMicrosoftAccount", "PersonalMicrosoftAccount":
		return true
	}
	return false
}

// PermissionGrant is a delegated permission grant (oauth2PermissionGrants).
type PermissionGrant struct {
	ID          string      `json:"id"`
	ClientID    string      `json:"clientId"`
	ConsentType ConsentType `json:"consentType"`
	// PrincipalID is the consenting user; empty for admin (AllPrincipals)
	// consent.
	PrincipalID string     `json:"principalId,omitempty"`
	ResourceID  string     `json:"resourceId"`
	Scope       string     `json:"scope"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	ExpiryTime  *time.Time `json:"expiryTime,omitempty"`
}

// Scopes splits the whitespace-delimited scope string.
func (g *PermissionGrant) Scopes() []string {
	return strings.Fields(g.Scope)
}

// AppRoleAssignment is an application permission assignment.
type AppRoleAssignment struct {
	ID                  string     `json:"id"`
	AppRoleID           string     `json:"appRoleId"`
	PrincipalID         string     `json:"principalId"`
	PrincipalType       string     `json:"principalType,omitempty"`
	ResourceID          string     `json:"resourceId"`
	ResourceDisplayName string     `json:"resourceDisplayName,omitempty"`
	CreatedDateTime     *time.Time `json:"createdDateTime,omitempty"`

	// RoleValue is the resolved role string (e.g. "Mail.Read"), looked up
	// from the resource service principal's appRoles at collection time.
	RoleValue       string `json:"roleValue,omitempty"`
	RoleDisplayName string `json:"roleDisplayName,omitempty"`
}

// SignInActivity holds the last-seen instants for a service principal.
// A nil *SignInActivity means activity data was not obtainable.
type SignInActivity struct {
	LastSignIn               *time.Time `json:"lastSignInDateTime,omitempty"`
	LastNonInteractiveSignIn *time.Time `json:"lastNonInteractiveSignInDateTime,omitempty"`
	LastSuccessfulSignIn     *time.Time `json:"lastSuccessfulSignInDateTime,omitempty"`
}

// DaysSinceActivity returns whole days since the most recent of the three
// instants. ok is false when all three are absent (never used).
func (s *SignInActivity) DaysSinceActivity(now time.Time) (days int, ok bool) {
	var latest *time.Time
	for _, t := range []*time.Time{s.LastSignIn, s.LastNonInteractiveSignIn, s.LastSuccessfulSignIn} {
		if t != nil && (latest == nil || t.After(*latest)) {
			latest = t
		}
	}
	if latest == nil {
		return 0, false
	}
	return int(now.Sub(*latest).Hours() / 24), true
}

// ServicePrincipal is the tenant-local representation of an application's
// identity: the object that actually holds consent grants and role
// assignments.
type ServicePrincipal struct {
	ObjectID        string     `json:"objectId"`
	AppID           string     `json:"appId"`
	DisplayName     string     `json:"displayName"`
	CreatedDateTime *time.Time `json:"createdDateTime,omitempty"`

	AppType              AppType `json:"appType"`
	ServicePrincipalType string  `json:"servicePrincipalType,omitempty"`

	PublisherName            string `json:"publisherName,omitempty"`
	VerifiedPublisher        string `json:"verifiedPublisherId,omitempty"`
	AppOwnerOrganizationID   string `json:"appOwnerOrganizationId,omitempty"`
	AccountEnabled           bool   `json:"accountEnabled"`

	Owners           []Owner             `json:"owners,omitempty"`
	PermissionGrants []PermissionGrant   `json:"oauth2PermissionGrants,omitempty"`
	RoleAssignments  []AppRoleAssignment `json:"appRoleAssignments,omitempty"`

	SignInActivity *SignInActivity `json:"signInActivity,omitempty"`

	// LinkedApplication is the app registration with the same AppID, when
	// the registration lives in the scanned tenant.
	LinkedApplication *Application `json:"-"`
}

// HasVerifiedPublisher reports whether the service principal carries a
// verified publisher attestation.
func (sp *ServicePrincipal) HasVerifiedPublisher() bool {
	return sp.VerifiedPublisher != ""
}

// HasOwners reports whether the owners collection is non-empty.
func (sp *ServicePrincipal) HasOwners() bool {
	return len(sp.Owners) > 0
}

// IsExternal reports third-party or unknown provenance.
func (sp *ServicePrincipal) IsExternal() bool {
	return sp.AppType == AppTypeThirdPartyMultiTenant || sp.AppType == AppTypeExternalUnknown
}

// DelegatedScopes returns the sorted distinct delegated scopes across all
// grants.
func (sp *ServicePrincipal) DelegatedScopes() []string {
	var scopes []string
	for i := range sp.PermissionGrants {
		scopes = append(scopes, sp.PermissionGrants[i].Scopes()...)
	}
	return sortedUnique(scopes)
}

// UserConsentedScopes returns the sorted distinct scopes granted through
// user (non-admin) consent.
func (sp *ServicePrincipal) UserConsentedScopes() []string {
	var scopes []string
	for i := range sp.PermissionGrants {
		if sp.PermissionGrants[i].ConsentType == ConsentUser {
			scopes = append(scopes, sp.PermissionGrants[i].Scopes()...)
		}
	}
	return sortedUnique(scopes)
}

// AppRoleValues returns the sorted distinct resolved application role
// values. The "Default Access" placeholder is excluded.
func (sp *ServicePrincipal) AppRoleValues() []string {
	var values []string
	for i := range sp.RoleAssignments {
		v := sp.RoleAssignments[i].RoleValue
		if v != "" && v != DefaultAccessRole {
			values = append(values, v)
		}
	}
	return sortedUnique(values)
}

// AllPermissions returns the union of delegated scopes and application role
// values, sorted.
func (sp *ServicePrincipal) AllPermissions() []string {
	return sortedUnique(append(sp.DelegatedScopes(), sp.AppRoleValues()...))
}

// HasPermissions reports whether the service principal holds at least one
// permission of any kind.
func (sp *ServicePrincipal) HasPermissions() bool {
	return len(sp.PermissionGrants) > 0 || len(sp.RoleAssignments) > 0
}

// ConsentingUsers returns the sorted distinct ids of users who granted
// consent through any delegated grant.
func (sp *ServicePrincipal) ConsentingUsers() []string {
	var ids []string
	for i := range sp.PermissionGrants {
		if id := sp.PermissionGrants[i].PrincipalID; id != "" {
			ids = append(ids, id)
		}
	}
	return sortedUnique(ids)
}

// DefaultAccessRole is the resolved value assigned when an app role
// assignment references the zero-GUID "default access" role.
const DefaultAccessRole = "Default Access"

func sortedUnique(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	slice := u.StringSlice{P: &s}
	u.Sort(slice)
	u.Strings(slice.P)
	return s
}

package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// ServicePrincipalCollector fetches service principals and enriches each
// with owners, delegated grants, app role assignments and (in full mode)
// sign-in activity.
type ServicePrincipalCollector struct {
	client   GraphAPI
	tenantID string
	mode     types.ScanMode
	logger   *slog.Logger

	// roleCache maps resource service principal object id to its published
	// app roles, so role ids resolve to names without refetching.
	roleMu    sync.Mutex
	roleCache map[string]map[string]appRole
}

// NewServicePrincipalCollector builds a service principal collector for the
// given tenant. mode controls whether sign-in activity is fetched.
func NewServicePrincipalCollector(client GraphAPI, tenantID string, mode types.ScanMode, logger *slog.Logger) *ServicePrincipalCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServicePrincipalCollector{
		client:    client,
		tenantID:  tenantID,
		mode:      mode,
		logger:    logger,
		roleCache: make(map[string]map[string]appRole),
	}
}

type appRole struct {
	ID          string `json:"id"`
	Value       string `json:"value"`
	DisplayName string `json:"displayName"`
}

type servicePrincipalDTO struct {
	ID                   string     `json:"id"`
	AppID                string     `json:"appId"`
	DisplayName          string     `json:"displayName"`
	CreatedDateTime      *time.Time `json:"createdDateTime"`
	ServicePrincipalType string     `json:"servicePrincipalType"`
	PublisherName        string     `json:"publisherName"`
	VerifiedPublisher    *struct {
		VerifiedPublisherID string `json:"verifiedPublisherId"`
	} `json:"verifiedPublisher"`
	AppOwnerOrganizationID string `json:"appOwnerOrganizationId"`
	AccountEnabled         bool   `json:"accountEnabled"`
}

func (c *ServicePrincipalCollector) toServicePrincipal(d servicePrincipalDTO) *types.ServicePrincipal {
	sp := &types.ServicePrincipal{
		ObjectID:               d.ID,
		AppID:                  d.AppID,
		DisplayName:            d.DisplayName,
		CreatedDateTime:        d.CreatedDateTime,
		ServicePrincipalType:   d.ServicePrincipalType,
		PublisherName:          d.PublisherName,
		AppOwnerOrganizationID: d.AppOwnerOrganizationID,
		AccountEnabled:         d.AccountEnabled,
	}
	if d.VerifiedPublisher != nil {
		sp.VerifiedPublisher = d.VerifiedPublisher.VerifiedPublisherID
	}
	sp.AppType = c.classify(sp)
	return sp
}

// classify derives provenance once at collection time. Downstream code only
// ever reads AppType.
func (c *ServicePrincipalCollector) classify(sp *types.ServicePrincipal) types.AppType {
	if sp.AppOwnerOrganizationID == MicrosoftTenantID || sp.VerifiedPublisher == MicrosoftPublisherID {
		return types.AppTypeFirstPartyMicrosoft
	}
	switch sp.AppOwnerOrganizationID {
	case c.tenantID:
		return types.AppTypeTenantOwned
	case "":
		return types.AppTypeExternalUnknown
	default:
		return types.AppTypeThirdPartyMultiTenant
	}
}

// Collect fetches every service principal, then enriches each entity. The
// per-entity enrichment fetches run concurrently; individual failures are
// logged and leave that facet empty rather than failing the collection.
func (c *ServicePrincipalCollector) Collect(ctx context.Context) ([]*types.ServicePrincipal, error) {
	query := url.Values{}
	query.Set("$select", "id,appId,displayName,createdDateTime,servicePrincipalType,publisherName,verifiedPublisher,appOwnerOrganizationId,accountEnabled")
	query.Set("$top", pageSize)

	var sps []*types.ServicePrincipal
	err := c.client.GetAllPages(ctx, "/servicePrincipals", query, func(raw json.RawMessage) error {
		var dto servicePrincipalDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return fmt.Errorf("decode service principal: %w", err)
		}
		sps = append(sps, c.toServicePrincipal(dto))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list service principals: %w", err)
	}

	c.logger.Info("collected service principals", "count", len(sps), "mode", c.mode)

	sem := make(chan struct{}, enrichWorkers)
	var wg sync.WaitGroup
	for _, sp := range sps {
		wg.Add(1)
		sem <- struct{}{}
		go func(sp *types.ServicePrincipal) {
			defer wg.Done()
			defer func() { <-sem }()
			c.enrich(ctx, sp)
		}(sp)
	}
	wg.Wait()

	return sps, nil
}

func (c *ServicePrincipalCollector) enrich(ctx context.Context, sp *types.ServicePrincipal) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		owners, err := fetchOwners(ctx, c.client, "/servicePrincipals/"+sp.ObjectID+"/owners")
		if err != nil {
			c.logger.Warn("failed to fetch service principal owners",
				"displayName", sp.DisplayName, "error", err)
			return
		}
		sp.Owners = owners
	}()

	go func() {
		defer wg.Done()
		grants, err := c.fetchGrants(ctx, sp.ObjectID)
		if err != nil {
			c.logger.Warn("failed to fetch permission grants",
				"displayName", sp.DisplayName, "error", err)
			return
		}
		sp.PermissionGrants = grants
	}()

	go func() {
		defer wg.Done()
		assignments, err := c.fetchRoleAssignments(ctx, sp.ObjectID)
		if err != nil {
			c.logger.Warn("failed to fetch app role assignments",
				"displayName", sp.DisplayName, "error", err)
			return
		}
		sp.RoleAssignments = assignments
	}()

	if c.mode == types.ModeFull {
		wg.Add(1)
		go func() {
			defer wg.Done()
			activity, err := c.fetchSignInActivity(ctx, sp.ObjectID)
			if err != nil {
				c.logger.Warn("failed to fetch sign-in activity",
					"displayName", sp.DisplayName, "error", err)
				return
			}
			sp.SignInActivity = activity
		}()
	}

	wg.Wait()
}

type grantDTO struct {
	ID          string     `json:"id"`
	ClientID    string     `json:"clientId"`
	ConsentType string     `json:"consentType"`
	PrincipalID string     `json:"principalId"`
	ResourceID  string     `json:"resourceId"`
	Scope       string     `json:"scope"`
	StartTime   *time.Time `json:"startTime"`
	ExpiryTime  *time.Time `json:"expiryTime"`
}

func mapConsentType(raw string) types.ConsentType {
	switch raw {
	case "AllPrincipals":
		return types.ConsentAdmin
	case "Principal":
		return types.ConsentUser
	default:
		return types.ConsentUnknown
	}
}

func (c *ServicePrincipalCollector) fetchGrants(ctx context.Context, objectID string) ([]types.PermissionGrant, error) {
	var grants []types.PermissionGrant
	err := c.client.GetAllPages(ctx, "/servicePrincipals/"+objectID+"/oauth2PermissionGrants", nil, func(raw json.RawMessage) error {
		var dto grantDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return err
		}
		grants = append(grants, types.PermissionGrant{
			ID:          dto.ID,
			ClientID:    dto.ClientID,
			ConsentType: mapConsentType(dto.ConsentType),
			PrincipalID: dto.PrincipalID,
			ResourceID:  dto.ResourceID,
			Scope:       strings.TrimSpace(dto.Scope),
			StartTime:   dto.StartTime,
			ExpiryTime:  dto.ExpiryTime,
		})
		return nil
	})
	return grants, err
}

type assignmentDTO struct {
	ID                  string     `json:"id"`
	AppRoleID           string     `json:"appRoleId"`
	PrincipalID         string     `json:"principalId"`
	PrincipalType       string     `json:"principalType"`
	ResourceID          string     `json:"resourceId"`
	ResourceDisplayName string     `json:"resourceDisplayName"`
	CreatedDateTime     *time.Time `json:"createdDateTime"`
}

func (c *ServicePrincipalCollector) fetchRoleAssignments(ctx context.Context, objectID string) ([]types.AppRoleAssignment, error) {
	var assignments []types.AppRoleAssignment
	err := c.client.GetAllPages(ctx, "/servicePrincipals/"+objectID+"/appRoleAssignments", nil, func(raw json.RawMessage) error {
		var dto assignmentDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return err
		}
		a := types.AppRoleAssignment{
			ID:                  dto.ID,
			AppRoleID:           dto.AppRoleID,
			PrincipalID:         dto.PrincipalID,
			PrincipalType:       dto.PrincipalType,
			ResourceID:          dto.ResourceID,
			ResourceDisplayName: dto.ResourceDisplayName,
			CreatedDateTime:     dto.CreatedDateTime,
		}
		a.RoleValue, a.RoleDisplayName = c.resolveRole(ctx, dto.ResourceID, dto.AppRoleID)
		assignments = append(assignments, a)
		return nil
	})
	return assignments, err
}

// resolveRole turns an appRoleId into its human-readable value by looking at
// the resource service principal's published roles. The zero GUID is the
// implicit default-access role and has no published definition.
func (c *ServicePrincipalCollector) resolveRole(ctx context.Context, resourceID, roleID string) (value, displayName string) {
	if roleID == zeroGUID {
		return types.DefaultAccessRole, types.DefaultAccessRole
	}

	roles, err := c.resourceRoles(ctx, resourceID)
	if err != nil {
		c.logger.Warn("failed to resolve app role", "resourceId", resourceID, "roleId", roleID, "error", err)
		return "", ""
	}
	role, found := roles[roleID]
	if !found {
		return "", ""
	}
	return role.Value, role.DisplayName
}

func (c *ServicePrincipalCollector) resourceRoles(ctx context.Context, resourceID string) (map[string]appRole, error) {
	c.roleMu.Lock()
	defer c.roleMu.Unlock()

	if cached, found := c.roleCache[resourceID]; found {
		return cached, nil
	}

	query := url.Values{}
	query.Set("$select", "appRoles")
	body, err := c.client.Get(ctx, "/servicePrincipals/"+resourceID, query)
	if err != nil {
		return nil, err
	}

	var resp struct {
		AppRoles []appRole `json:"appRoles"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode app roles for %s: %w", resourceID, err)
	}

	roles := make(map[string]appRole, len(resp.AppRoles))
	for _, r := range resp.AppRoles {
		roles[r.ID] = r
	}
	c.roleCache[resourceID] = roles
	return roles, nil
}

type signInActivityDTO struct {
	SignInActivity *struct {
		LastSignInDateTime               *time.Time `json:"lastSignInDateTime"`
		LastNonInteractiveSignInDateTime *time.Time `json:"lastNonInteractiveSignInDateTime"`
		LastSuccessfulSignInDateTime     *time.Time `json:"lastSuccessfulSignInDateTime"`
	} `json:"signInActivity"`
}

func (c *ServicePrincipalCollector) fetchSignInActivity(ctx context.Context, objectID string) (*types.SignInActivity, error) {
	query := url.Values{}
	query.Set("$select", "id,signInActivity")
	body, err := c.client.GetBeta(ctx, "/servicePrincipals/"+objectID, query)
	if err != nil {
		return nil, err
	}

	var dto signInActivityDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, fmt.Errorf("decode sign-in activity: %w", err)
	}
	if dto.SignInActivity == nil {
		// Present-but-never-used: distinct from unobtainable (nil).
		return &types.SignInActivity{}, nil
	}
	return &types.SignInActivity{
		LastSignIn:               dto.SignInActivity.LastSignInDateTime,
		LastNonInteractiveSignIn: dto.SignInActivity.LastNonInteractiveSignInDateTime,
		LastSuccessfulSignIn:     dto.SignInActivity.LastSuccessfulSignInDateTime,
	}, nil
}

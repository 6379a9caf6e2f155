// Package collectors fetches applications and service principals from
// Microsoft Graph and normalizes them into the domain model.
package collectors

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

const (
	// MicrosoftTenantID is the tenant that owns Microsoft first-party apps.
	MicrosoftTenantID = "72f988bf-86f1-41af-91ab-2d7cd011db47"
	// MicrosoftPublisherID is the verified publisher id Microsoft stamps on
	// its own service principals.
	MicrosoftPublisherID = "f8cdef31-a31e-4b4a-93e4-5f571e91255a"

	// zeroGUID marks the implicit "default access" app role.
	zeroGUID = "00000000-0000-0000-0000-000000000000"

	// pageSize is the $top value requested per collection page.
	pageSize = "999"

	// enrichWorkers bounds how many entities are enriched concurrently.
	enrichWorkers = 8
)

// GraphAPI is the slice of the Graph client the collectors need.
type GraphAPI interface {
	Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
	GetBeta(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
	GetAllPages(ctx context.Context, path string, query url.Values, fn func(json.RawMessage) error) error
}

type ownerDTO struct {
	ODataType         string `json:"@odata.type"`
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

func (d ownerDTO) toOwner() types.Owner {
	kind := "other"
	if strings.EqualFold(d.ODataType, "#microsoft.graph.user") {
		kind = "user"
	}
	return types.Owner{
		ObjectID:          d.ID,
		DisplayName:       d.DisplayName,
		UserPrincipalName: d.UserPrincipalName,
		PrincipalKind:     kind,
	}
}

// fetchOwners collects the owners of a directory object.
func fetchOwners(ctx context.Context, client GraphAPI, path string) ([]types.Owner, error) {
	query := url.Values{}
	query.Set("$select", "id,displayName,userPrincipalName")

	var owners []types.Owner
	err := client.GetAllPages(ctx, path, query, func(raw json.RawMessage) error {
		var dto ownerDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return err
		}
		owners = append(owners, dto.toOwner())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owners, nil
}

type credentialDTO struct {
	KeyID         string     `json:"keyId"`
	DisplayName   string     `json:"displayName"`
	StartDateTime *time.Time `json:"startDateTime"`
	EndDateTime   *time.Time `json:"endDateTime"`
}

func toCredentials(dtos []credentialDTO, kind types.CredentialKind) []types.Credential {
	if len(dtos) == 0 {
		return nil
	}
	creds := make([]types.Credential, 0, len(dtos))
	for _, d := range dtos {
		creds = append(creds, types.Credential{
			ID:            d.KeyID,
			Kind:          kind,
			DisplayName:   d.DisplayName,
			StartDateTime: d.StartDateTime,
			EndDateTime:   d.EndDateTime,
		})
	}
	return creds
}

// LinkApplications attaches each service principal to the app registration
// sharing its appId, when one exists in the scanned tenant.
func LinkApplications(apps []*types.Application, sps []*types.ServicePrincipal) {
	byAppID := make(map[string]*types.Application, len(apps))
	for _, app := range apps {
		byAppID[app.AppID] = app
	}
	for _, sp := range sps {
		sp.LinkedApplication = byAppID[sp.AppID]
	}
}

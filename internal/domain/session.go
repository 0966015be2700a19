package domain

import (
	"fmt"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/models"
)

// Session is the verified identity of a caller, taken from its access
// token. It is passed explicitly; nothing in homesync reads a global
// current user.
type Session struct {
	UserID      string
	HouseholdID string
}

// TenantFor returns the tenant a session reads and writes kind under.
// Owner kinds need a user, household kinds a household.
func TenantFor(kind string, s Session) (models.Tenant, error) {
	k, err := Lookup(kind)
	if err != nil {
		return models.Tenant{}, err
	}

	switch k.Scope {
	case ScopeHousehold:
		if s.HouseholdID == "" {
			return models.Tenant{}, fmt.Errorf("%s needs a household: %w", kind, common.ErrInvalidScope)
		}
		return models.Tenant{HouseholdID: s.HouseholdID}, nil
	default:
		if s.UserID == "" {
			return models.Tenant{}, fmt.Errorf("%s needs a user: %w", kind, common.ErrInvalidScope)
		}
		return models.Tenant{OwnerID: s.UserID}, nil
	}
}

package models

import "strings"

// Tenant holds the scoping attributes of a record. At least one field is
// set on every stored record.
type Tenant struct {
	OwnerID     string `json:"ownerId,omitempty"`
	HouseholdID string `json:"householdId,omitempty"`
}

func (t Tenant) IsZero() bool {
	return t.OwnerID == "" && t.HouseholdID == ""
}

// Matches reports whether t falls inside scope. Every non-empty scope field
// must be equal; empty scope fields do not constrain.
func (t Tenant) Matches(scope Tenant) bool {
	if scope.OwnerID != "" && scope.OwnerID != t.OwnerID {
		return false
	}
	if scope.HouseholdID != "" && scope.HouseholdID != t.HouseholdID {
		return false
	}
	return true
}

func (t Tenant) String() string {
	var parts []string
	if t.OwnerID != "" {
		parts = append(parts, "owner="+t.OwnerID)
	}
	if t.HouseholdID != "" {
		parts = append(parts, "household="+t.HouseholdID)
	}
	if len(parts) == 0 {
		return "<none>"
	}
	return strings.Join(parts, ",")
}

// Package domain declares the entity kinds stored in homesync: their typed
// shape, how they are scoped to tenants and which fields text filters may
// use.
package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/models"
)

const (
	KindWallets              = "wallets"
	KindPersonalTransactions = "personalTransactions"
	KindChores               = "chores"
	KindSavingsContributions = "savingsContributions"
	KindSubscriptions        = "subscriptions"
)

// Wallet is a personal money container. Amounts elsewhere are in minor
// units of its currency.
type Wallet struct {
	Name     string `json:"name" sync:"required"`
	Currency string `json:"currency" sync:"required"`
	Archived bool   `json:"archived,omitempty"`
}

type PersonalTransaction struct {
	WalletID   string    `json:"walletId" sync:"required"`
	Amount     int64     `json:"amount" sync:"required"`
	Category   string    `json:"category,omitempty"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurredAt" sync:"required"`
}

// Chore is a household task. DueDate is a calendar date (YYYY-MM-DD).
type Chore struct {
	Title      string `json:"title" sync:"required"`
	AssigneeID string `json:"assigneeId,omitempty"`
	DueDate    string `json:"dueDate,omitempty"`
	Points     int64  `json:"points,omitempty"`
	Done       bool   `json:"done,omitempty"`
}

// SavingsContribution is one member's deposit into a shared savings
// campaign.
type SavingsContribution struct {
	CampaignID string    `json:"campaignId" sync:"required"`
	MemberID   string    `json:"memberId" sync:"required"`
	Amount     int64     `json:"amount" sync:"required"`
	Currency   string    `json:"currency,omitempty"`
	MadeAt     time.Time `json:"madeAt" sync:"required"`
}

type Subscription struct {
	Name         string `json:"name" sync:"required"`
	Amount       int64  `json:"amount" sync:"required"`
	Currency     string `json:"currency,omitempty"`
	BillingCycle string `json:"billingCycle,omitempty"`
	NextChargeOn string `json:"nextChargeOn,omitempty"`
	WalletID     string `json:"walletId,omitempty"`
}

// Scope says which session attribute a kind is partitioned by.
type Scope int

const (
	// ScopeOwner kinds belong to one user.
	ScopeOwner Scope = iota + 1
	// ScopeHousehold kinds are shared by every member of a household.
	ScopeHousehold
)

// Kind describes one entity kind.
type Kind struct {
	Name   string
	Scope  Scope
	Schema filter.Schema
	decode func(models.Attributes) error
}

func decoder[T any]() func(models.Attributes) error {
	return func(attrs models.Attributes) error {
		_, err := codec.Decode[T](attrs)
		return err
	}
}

var registry = map[string]Kind{
	KindWallets: {
		Name:  KindWallets,
		Scope: ScopeOwner,
		Schema: filter.Schema{
			"name":     filter.KindString,
			"currency": filter.KindString,
			"archived": filter.KindBool,
		},
		decode: decoder[Wallet](),
	},
	KindPersonalTransactions: {
		Name:  KindPersonalTransactions,
		Scope: ScopeOwner,
		Schema: filter.Schema{
			"walletId":   filter.KindString,
			"amount":     filter.KindInt,
			"category":   filter.KindString,
			"note":       filter.KindString,
			"occurredAt": filter.KindTimestamp,
		},
		decode: decoder[PersonalTransaction](),
	},
	KindChores: {
		Name:  KindChores,
		Scope: ScopeHousehold,
		Schema: filter.Schema{
			"title":      filter.KindString,
			"assigneeId": filter.KindString,
			"dueDate":    filter.KindString,
			"points":     filter.KindInt,
			"done":       filter.KindBool,
		},
		decode: decoder[Chore](),
	},
	KindSavingsContributions: {
		Name:  KindSavingsContributions,
		Scope: ScopeHousehold,
		Schema: filter.Schema{
			"campaignId": filter.KindString,
			"memberId":   filter.KindString,
			"amount":     filter.KindInt,
			"currency":   filter.KindString,
			"madeAt":     filter.KindTimestamp,
		},
		decode: decoder[SavingsContribution](),
	},
	KindSubscriptions: {
		Name:  KindSubscriptions,
		Scope: ScopeOwner,
		Schema: filter.Schema{
			"name":         filter.KindString,
			"amount":       filter.KindInt,
			"billingCycle": filter.KindString,
			"nextChargeOn": filter.KindString,
			"walletId":     filter.KindString,
		},
		decode: decoder[Subscription](),
	},
}

// Lookup returns the declaration of kind.
func Lookup(kind string) (Kind, error) {
	k, ok := registry[kind]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", common.ErrUnknownKind, kind)
	}
	return k, nil
}

// Kinds lists every declared kind, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Canonicalize rewrites the kind's timestamp attributes into
// filter.TimestampLayout so that filters and ordering on them follow time.
// attrs is not modified.
func Canonicalize(kind string, attrs models.Attributes) (models.Attributes, error) {
	k, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	out := maps.Clone(attrs)
	for field, fk := range k.Schema {
		if fk != filter.KindTimestamp {
			continue
		}
		v, ok := out[field].(string)
		if !ok {
			continue
		}
		c, err := filter.CanonicalTimestamp(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %s: %w", kind, common.ErrInvalidRecord, field, err)
		}
		out[field] = c
	}
	return out, nil
}

// Validate checks that attrs decode into the kind's typed entity.
func Validate(kind string, attrs models.Attributes) error {
	k, err := Lookup(kind)
	if err != nil {
		return err
	}
	if err := k.decode(attrs); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}

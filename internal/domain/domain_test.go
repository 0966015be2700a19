package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/mutation"
	"github.com/dmitrijs2005/homesync/internal/projection"
	"github.com/dmitrijs2005/homesync/internal/store/memory"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Session{UserID: "alice", HouseholdID: "h1"}
	bob   = domain.Session{UserID: "bob", HouseholdID: "h1"}
)

func TestTenantFor(t *testing.T) {
	tn, err := domain.TenantFor(domain.KindWallets, alice)
	require.NoError(t, err)
	require.Equal(t, models.Tenant{OwnerID: "alice"}, tn)

	tn, err = domain.TenantFor(domain.KindChores, alice)
	require.NoError(t, err)
	require.Equal(t, models.Tenant{HouseholdID: "h1"}, tn)

	_, err = domain.TenantFor(domain.KindChores, domain.Session{UserID: "solo"})
	require.ErrorIs(t, err, common.ErrInvalidScope)

	_, err = domain.TenantFor("recipes", alice)
	require.ErrorIs(t, err, common.ErrUnknownKind)
}

func TestKinds(t *testing.T) {
	require.Equal(t, []string{
		domain.KindChores,
		domain.KindPersonalTransactions,
		domain.KindSavingsContributions,
		domain.KindSubscriptions,
		domain.KindWallets,
	}, domain.Kinds())

	for _, name := range domain.Kinds() {
		k, err := domain.Lookup(name)
		require.NoError(t, err)
		_, err = k.Schema.Declarations()
		require.NoError(t, err, name)
	}
}

func TestRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	check := func(t *testing.T, entity any, decode func(models.Attributes) (any, error)) {
		t.Helper()
		attrs, err := codec.Encode(entity)
		require.NoError(t, err)
		got, err := decode(attrs)
		require.NoError(t, err)
		require.Equal(t, entity, got)
	}

	check(t, domain.Wallet{Name: "cash", Currency: "EUR", Archived: true}, func(a models.Attributes) (any, error) {
		return codec.Decode[domain.Wallet](a)
	})
	check(t, domain.PersonalTransaction{WalletID: "w1", Amount: -1250, Category: "food", OccurredAt: at}, func(a models.Attributes) (any, error) {
		return codec.Decode[domain.PersonalTransaction](a)
	})
	check(t, domain.Chore{Title: "dishes", AssigneeID: "bob", DueDate: "2024-05-02", Points: 3}, func(a models.Attributes) (any, error) {
		return codec.Decode[domain.Chore](a)
	})
	check(t, domain.SavingsContribution{CampaignID: "trip", MemberID: "alice", Amount: 5000, MadeAt: at}, func(a models.Attributes) (any, error) {
		return codec.Decode[domain.SavingsContribution](a)
	})
	check(t, domain.Subscription{Name: "music", Amount: 999, BillingCycle: "monthly", NextChargeOn: "2024-06-01"}, func(a models.Attributes) (any, error) {
		return codec.Decode[domain.Subscription](a)
	})
}

func TestValidate(t *testing.T) {
	require.NoError(t, domain.Validate(domain.KindChores, models.Attributes{"title": "dishes"}))
	require.ErrorIs(t, domain.Validate(domain.KindChores, models.Attributes{"points": int64(1)}), common.ErrDecode)
	require.ErrorIs(t, domain.Validate("recipes", nil), common.ErrUnknownKind)
}

func TestCanonicalize(t *testing.T) {
	in := models.Attributes{"walletId": "w1", "amount": int64(5), "occurredAt": "2026-01-01T10:00:00+02:00"}
	out, err := domain.Canonicalize(domain.KindPersonalTransactions, in)
	require.NoError(t, err)
	require.Equal(t, "2026-01-01T08:00:00.000000000Z", out["occurredAt"])
	require.Equal(t, "2026-01-01T10:00:00+02:00", in["occurredAt"])

	out, err = domain.Canonicalize(domain.KindSavingsContributions, models.Attributes{"madeAt": "2026-03-01T10:00:00.25Z"})
	require.NoError(t, err)
	require.Equal(t, "2026-03-01T10:00:00.250000000Z", out["madeAt"])

	_, err = domain.Canonicalize(domain.KindPersonalTransactions, models.Attributes{"occurredAt": "soon"})
	require.ErrorIs(t, err, common.ErrInvalidRecord)
}

func TestTimestampFiltersFollowTime(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	mgr := mutation.NewManager(tenant.NewGuard(s),
		mutation.WithCanonicalizer(domain.Canonicalize),
		mutation.WithValidator(domain.Validate),
	)
	scope := mustTenant(t, domain.KindPersonalTransactions, alice)
	kind, err := domain.Lookup(domain.KindPersonalTransactions)
	require.NoError(t, err)

	for id, at := range map[string]string{
		"early": "2026-01-01T10:00:00+02:00",
		"frac":  "2026-01-01T08:30:00.5Z",
		"late":  "2026-01-01T09:00:00Z",
	} {
		_, err := mgr.Insert(ctx, scope, domain.KindPersonalTransactions, id,
			models.Attributes{"walletId": "w1", "amount": int64(1), "occurredAt": at})
		require.NoError(t, err)
	}

	f, err := projection.ParseFilter(kind.Schema, `occurredAt < "2026-01-01T09:00:00Z"`)
	require.NoError(t, err)
	order, err := projection.ParseOrder(kind.Schema, "occurredAt")
	require.NoError(t, err)

	res, err := projection.List[domain.PersonalTransaction](ctx, s, scope, domain.KindPersonalTransactions,
		projection.Query{Filter: f, Order: order})
	require.NoError(t, err)
	require.Empty(t, res.Skipped)
	var got []string
	for _, v := range res.Items {
		got = append(got, v.ID)
	}
	require.Equal(t, []string{"early", "frac"}, got)
	require.True(t, res.Items[0].Value.OccurredAt.Equal(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)))
}

func mustTenant(t *testing.T, kind string, s domain.Session) models.Tenant {
	t.Helper()
	tn, err := domain.TenantFor(kind, s)
	require.NoError(t, err)
	return tn
}

func TestWalletBalanceAndJoin(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	mgr := mutation.NewManager(tenant.NewGuard(s))
	wallets := mustTenant(t, domain.KindWallets, alice)
	txns := mustTenant(t, domain.KindPersonalTransactions, alice)

	w, err := codec.Encode(domain.Wallet{Name: "cash", Currency: "EUR"})
	require.NoError(t, err)
	_, err = mgr.Insert(ctx, wallets, domain.KindWallets, "w1", w)
	require.NoError(t, err)

	for i, amount := range []int64{1000, -250, -100} {
		attrs, err := codec.Encode(domain.PersonalTransaction{WalletID: "w1", Amount: amount, OccurredAt: time.Now()})
		require.NoError(t, err)
		_, err = mgr.Insert(ctx, txns, domain.KindPersonalTransactions, string(rune('a'+i)), attrs)
		require.NoError(t, err)
	}
	_, err = mgr.SoftDelete(ctx, txns, domain.KindPersonalTransactions, "c")
	require.NoError(t, err)

	total, skipped, err := domain.WalletBalance(ctx, s, alice, "w1")
	require.NoError(t, err)
	require.Empty(t, skipped)
	require.Equal(t, int64(750), total)

	// bob sees none of alice's transactions
	total, _, err = domain.WalletBalance(ctx, s, bob, "w1")
	require.NoError(t, err)
	require.Zero(t, total)

	joined, _, err := domain.TransactionsWithWallets(ctx, s, alice, projection.Query{})
	require.NoError(t, err)
	require.Len(t, joined, 2)
	for _, j := range joined {
		require.NotNil(t, j.Right)
		require.Equal(t, "cash", j.Right.Value.Name)
	}
}

func TestCampaignTotals(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	mgr := mutation.NewManager(tenant.NewGuard(s))
	house := mustTenant(t, domain.KindSavingsContributions, alice)

	for i, c := range []domain.SavingsContribution{
		{CampaignID: "trip", MemberID: "alice", Amount: 100, MadeAt: time.Now()},
		{CampaignID: "trip", MemberID: "bob", Amount: 50, MadeAt: time.Now()},
		{CampaignID: "trip", MemberID: "alice", Amount: 25, MadeAt: time.Now()},
		{CampaignID: "car", MemberID: "bob", Amount: 999, MadeAt: time.Now()},
	} {
		attrs, err := codec.Encode(c)
		require.NoError(t, err)
		_, err = mgr.Insert(ctx, house, domain.KindSavingsContributions, string(rune('a'+i)), attrs)
		require.NoError(t, err)
	}

	// household kinds are shared: bob sees contributions alice recorded
	totals, _, err := domain.CampaignTotals(ctx, s, bob, "trip")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"alice": 125, "bob": 50}, totals)
}

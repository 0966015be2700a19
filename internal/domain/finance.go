package domain

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/projection"
	"github.com/dmitrijs2005/homesync/internal/store"
)

// WalletBalance sums the live transactions of a wallet. Transactions that
// fail to decode are returned rather than counted.
func WalletBalance(ctx context.Context, r store.Reader, s Session, walletID string) (int64, []projection.Skipped, error) {
	scope, err := TenantFor(KindPersonalTransactions, s)
	if err != nil {
		return 0, nil, err
	}
	q := projection.Query{Filter: filter.Eq("walletId", walletID)}
	total, skipped, err := projection.Fold(ctx, r, scope, KindPersonalTransactions, q, int64(0),
		func(acc int64, v projection.View[PersonalTransaction]) int64 { return acc + v.Value.Amount })
	if err != nil {
		return 0, skipped, fmt.Errorf("wallet %s balance: %w", walletID, err)
	}
	return total, skipped, nil
}

// CampaignTotals sums savings contributions of a campaign per member.
func CampaignTotals(ctx context.Context, r store.Reader, s Session, campaignID string) (map[string]int64, []projection.Skipped, error) {
	scope, err := TenantFor(KindSavingsContributions, s)
	if err != nil {
		return nil, nil, err
	}
	q := projection.Query{Filter: filter.Eq("campaignId", campaignID)}
	return projection.Fold(ctx, r, scope, KindSavingsContributions, q, map[string]int64{},
		func(acc map[string]int64, v projection.View[SavingsContribution]) map[string]int64 {
			acc[v.Value.MemberID] += v.Value.Amount
			return acc
		})
}

// TransactionsWithWallets lists a user's transactions, newest first, each
// joined to its wallet.
func TransactionsWithWallets(ctx context.Context, r store.Reader, s Session, q projection.Query) ([]projection.Joined[PersonalTransaction, Wallet], []projection.Skipped, error) {
	scope, err := TenantFor(KindPersonalTransactions, s)
	if err != nil {
		return nil, nil, err
	}
	res, err := projection.List[PersonalTransaction](ctx, r, scope, KindPersonalTransactions, q)
	if err != nil {
		return nil, nil, err
	}
	walletScope, err := TenantFor(KindWallets, s)
	if err != nil {
		return nil, nil, err
	}
	joined, err := projection.JoinByID[PersonalTransaction, Wallet](ctx, r, walletScope, res.Items, KindWallets,
		func(v projection.View[PersonalTransaction]) string { return v.Value.WalletID })
	return joined, res.Skipped, err
}

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReports(t *testing.T) {
	dev := device(t, alice)
	inserts := [][]string{
		{"wallets", "w1", `{"name":"Cash","currency":"EUR"}`},
		{"personalTransactions", "t1", `{"walletId":"w1","amount":-500,"category":"food","occurredAt":"2026-03-01T10:00:00Z"}`},
		{"personalTransactions", "t2", `{"walletId":"w1","amount":3000,"category":"salary","occurredAt":"2026-03-02T10:00:00Z"}`},
		{"savingsContributions", "s1", `{"campaignId":"trip","memberId":"alice","amount":100,"madeAt":"2026-03-01T10:00:00Z"}`},
		{"savingsContributions", "s2", `{"campaignId":"trip","memberId":"bob","amount":250,"madeAt":"2026-03-01T11:00:00Z"}`},
		{"savingsContributions", "s3", `{"campaignId":"trip","memberId":"alice","amount":50,"madeAt":"2026-03-02T10:00:00Z"}`},
	}
	for _, in := range inserts {
		_, err := run(t, with(dev, "insert", in[0], in[1], "--data", in[2])...)
		require.NoError(t, err)
	}

	out, err := run(t, with(dev, "report", "balance", "w1")...)
	require.NoError(t, err)
	assert.Equal(t, "w1: 2500\n", out)

	out, err = run(t, with(dev, "report", "campaign", "trip")...)
	require.NoError(t, err)
	assert.Equal(t, "alice: 150\nbob: 250\n", out)

	out, err = run(t, with(dev, "report", "transactions")...)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02 t2 3000 Cash salary\n2026-03-01 t1 -500 Cash food\n", out)
}

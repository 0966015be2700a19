package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Session{UserID: "alice", HouseholdID: "hh1"}
	bob   = domain.Session{UserID: "bob", HouseholdID: "hh1"}
)

func TestLocalRecordLifecycle(t *testing.T) {
	dev := device(t, alice)

	out, err := run(t, with(dev, "insert", "wallets", "w1", "--data", `{"name":"Cash","currency":"EUR"}`)...)
	require.NoError(t, err)
	assert.Contains(t, out, "wallets/w1 seq=")
	assert.Contains(t, out, `{"currency":"EUR","name":"Cash"}`)

	_, err = run(t, with(dev, "insert", "wallets", "w1", "--data", `{"name":"Cash","currency":"EUR"}`)...)
	require.ErrorIs(t, err, common.ErrAlreadyExists)

	out, err = run(t, with(dev, "update", "wallets", "w1", "--patch", `{"name":"Pocket"}`, "--format", "json")...)
	require.NoError(t, err)
	var rec models.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "Pocket", rec.Attributes["name"])
	assert.Equal(t, models.Tenant{OwnerID: "alice"}, rec.Tenant)
	assert.Equal(t, models.OperationUpdate, rec.Operation)

	out, err = run(t, with(dev, "get", "wallets", "w1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Pocket")

	out, err = run(t, with(dev, "delete", "wallets", "w1")...)
	require.NoError(t, err)
	assert.Equal(t, "wallets/w1 deleted\n", out)

	_, err = run(t, with(dev, "get", "wallets", "w1")...)
	require.ErrorIs(t, err, common.ErrorNotFound)

	out, err = run(t, with(dev, "get", "wallets", "w1", "--deleted")...)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted ")

	_, err = run(t, with(dev, "update", "wallets", "w1", "--patch", `{"name":"X"}`)...)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestInsert_GeneratesIDAndValidates(t *testing.T) {
	dev := device(t, alice)

	out, err := run(t, with(dev, "insert", "chores", "--data", `{"title":"Dishes"}`, "--format", "json")...)
	require.NoError(t, err)
	var rec models.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.Tenant{HouseholdID: "hh1"}, rec.Tenant)

	_, err = run(t, with(dev, "insert", "wallets", "--data", `{"currency":"EUR"}`)...)
	require.ErrorIs(t, err, common.ErrDecode)

	_, err = run(t, with(dev, "insert", "wallets", "--data", `[1,2]`)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --data JSON")

	_, err = run(t, with(dev, "insert", "pets", "--data", `{}`)...)
	require.ErrorIs(t, err, common.ErrUnknownKind)
}

func TestMissingToken(t *testing.T) {
	_, err := run(t, "get", "wallets", "w1", "--db", t.TempDir()+"/x.db", "--token", "")
	require.ErrorIs(t, err, errNoToken)

	_, err = run(t, "get", "wallets", "w1", "--db", t.TempDir()+"/x.db", "--token", "garbage")
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestBulkDelete_ReportsEachID(t *testing.T) {
	dev := device(t, alice)
	for _, id := range []string{"w1", "w2"} {
		_, err := run(t, with(dev, "insert", "wallets", id, "--data", `{"name":"n","currency":"EUR"}`)...)
		require.NoError(t, err)
	}

	out, err := run(t, with(dev, "delete", "wallets", "w1", "missing", "w2")...)
	require.Error(t, err)
	assert.Equal(t, "1 of 3 deletes failed", err.Error())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "wallets/w1 deleted", lines[0])
	assert.Contains(t, lines[1], "wallets/missing:")
	assert.Equal(t, "wallets/w2 deleted", lines[2])
}

func TestList_FilterOrderAndSkip(t *testing.T) {
	dev := device(t, alice)
	txs := map[string]string{
		"t1": `{"walletId":"w1","amount":-500,"category":"food","occurredAt":"2026-03-01T10:00:00Z"}`,
		"t2": `{"walletId":"w1","amount":-1200,"category":"food","occurredAt":"2026-03-02T10:00:00Z"}`,
		"t3": `{"walletId":"w1","amount":3000,"category":"salary","occurredAt":"2026-03-03T10:00:00Z"}`,
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := run(t, with(dev, "insert", "personalTransactions", id, "--data", txs[id])...)
		require.NoError(t, err)
	}

	out, err := run(t, with(dev, "list", "personalTransactions",
		"--filter", `category = "food"`, "--order-by", "amount", "--format", "json")...)
	require.NoError(t, err)
	var res struct {
		Records []models.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Records, 2)
	assert.Equal(t, "t2", res.Records[0].ID)
	assert.Equal(t, "t1", res.Records[1].ID)

	out, err = run(t, with(dev, "list", "personalTransactions", "--limit", "1")...)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.True(t, strings.HasPrefix(out, "personalTransactions/t3 "))

	_, err = run(t, with(dev, "list", "personalTransactions", "--filter", "amount >")...)
	require.ErrorIs(t, err, common.ErrInvalidFilter)

	_, err = run(t, with(dev, "list", "personalTransactions", "--order-by", "nope")...)
	require.ErrorIs(t, err, common.ErrInvalidFilter)
}

func TestList_TenantIsolation(t *testing.T) {
	db := t.TempDir() + "/shared.db"
	asAlice := []string{"--db", db, "--token", testToken(t, alice)}
	asBob := []string{"--db", db, "--token", testToken(t, bob)}

	_, err := run(t, with(asAlice, "insert", "wallets", "w1", "--data", `{"name":"Cash","currency":"EUR"}`)...)
	require.NoError(t, err)
	_, err = run(t, with(asAlice, "insert", "chores", "c1", "--data", `{"title":"Dishes"}`)...)
	require.NoError(t, err)

	out, err := run(t, with(asBob, "list", "wallets")...)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, with(asBob, "get", "wallets", "w1")...)
	require.ErrorIs(t, err, common.ErrTenantMismatch)

	out, err = run(t, with(asBob, "list", "chores")...)
	require.NoError(t, err)
	assert.Contains(t, out, "chores/c1")
}

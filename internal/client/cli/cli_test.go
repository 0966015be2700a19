package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/server/auth"
	"github.com/stretchr/testify/require"
)

const testSecret = "secret"

func testToken(t *testing.T, s domain.Session) string {
	t.Helper()
	tok, err := auth.GenerateToken(s, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return tok
}

// run executes the root command and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// device returns the global flags of a replica in a temp dir.
func device(t *testing.T, s domain.Session) []string {
	t.Helper()
	return []string{
		"--db", filepath.Join(t.TempDir(), "replica.db"),
		"--token", testToken(t, s),
	}
}

func with(base []string, args ...string) []string {
	return append(append([]string{}, args...), base...)
}

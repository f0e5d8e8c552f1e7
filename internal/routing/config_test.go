package routing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/domain"
	"copytrader/internal/ports"
)

type fakePool struct {
	ports.PoolClient
	unreachable map[string]bool
}

func (f *fakePool) AccountInfo(ctx context.Context, accountID, region string) (*ports.AccountInfo, error) {
	if f.unreachable[accountID] {
		return nil, &ports.TransportError{Kind: ports.TransportTimeout, Op: "accountInfo", Err: assertErr}
	}
	return &ports.AccountInfo{Balance: decimal.NewFromInt(1000), Equity: decimal.NewFromInt(1000)}, nil
}

var assertErr = os_ErrTest{}

type os_ErrTest struct{}

func (os_ErrTest) Error() string { return "simulated unreachable account" }

const validYAML = `
routes:
  S1:
    destinations:
      - accountId: D1
        region: eu
        nickname: primary
        symbolRewrite:
          XAUUSD: XAUUSDm
        sizing:
          method: multiplier
          multiplier: 2
          minLot: 0.01
          maxLot: 50
          lotStep: 0.01
        maxConcurrentPerSymbol: 5
`

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseAndBuildValidConfig(t *testing.T) {
	path := writeTempFile(t, validYAML)
	schema, err := parseFile(path)
	require.NoError(t, err)

	tbl, err := build(context.Background(), schema, &fakePool{})
	require.NoError(t, err)

	routes := tbl.bySource["S1"]
	require.Len(t, routes, 1)
	assert.Equal(t, "D1", routes[0].Destination.AccountID)
	assert.Equal(t, domain.SizingMultiplier, routes[0].Destination.Sizing.Method)
	assert.Equal(t, "XAUUSDm", routes[0].Destination.RewriteSymbol("XAUUSD"))
}

func TestBuildFailsLoudlyWhenDestinationUnreachable(t *testing.T) {
	path := writeTempFile(t, validYAML)
	schema, err := parseFile(path)
	require.NoError(t, err)

	_, err = build(context.Background(), schema, &fakePool{unreachable: map[string]bool{"D1": true}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigInvalid)
}

func TestBuildRejectsUnknownSizingMethod(t *testing.T) {
	const bad = `
routes:
  S1:
    destinations:
      - accountId: D1
        sizing:
          method: bogus
`
	path := writeTempFile(t, bad)
	schema, err := parseFile(path)
	require.NoError(t, err)

	_, err = build(context.Background(), schema, &fakePool{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sizing method")
}

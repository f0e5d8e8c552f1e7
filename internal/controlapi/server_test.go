package controlapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/adapters/mapstore"
	"copytrader/internal/breaker"
	"copytrader/internal/copytrader"
	"copytrader/internal/domain"
	"copytrader/internal/ports"
)

type fakePool struct {
	accountInfoErr error
}

func (f *fakePool) AccountInfo(ctx context.Context, accountID, region string) (*ports.AccountInfo, error) {
	if f.accountInfoErr != nil {
		return nil, f.accountInfoErr
	}
	return &ports.AccountInfo{Balance: decimal.NewFromInt(1000), Equity: decimal.NewFromInt(1000)}, nil
}

func (f *fakePool) Positions(ctx context.Context, accountID, region string) ([]domain.DestPosition, error) {
	return []domain.DestPosition{{PositionID: "555"}}, nil
}

func (f *fakePool) ExecuteTrade(ctx context.Context, accountID, region, symbol string, side domain.Side, volume decimal.Decimal, stopLoss, takeProfit *decimal.Decimal, clientTag string) (*ports.ExecuteResult, error) {
	return nil, nil
}

func (f *fakePool) ModifyPosition(ctx context.Context, accountID, region, positionID string, stopLoss, takeProfit *decimal.Decimal) error {
	return nil
}

func (f *fakePool) ClosePosition(ctx context.Context, accountID, region, positionID string) (*ports.CloseResult, error) {
	return &ports.CloseResult{}, nil
}

func (f *fakePool) History(ctx context.Context, accountID string, days, limit int) ([]domain.DestPosition, error) {
	return nil, nil
}

func (f *fakePool) RegisterReconnectionCallback(ctx context.Context, fn func()) error { return nil }

type nullLogger struct{}

func (nullLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nullLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nullLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nullLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestServer(t *testing.T) (*Server, *mapstore.MemStore) {
	t.Helper()
	store := mapstore.NewMemStore()
	pool := &fakePool{}
	trader := copytrader.New(copytrader.Config{SourceAccountID: "S1", Pool: pool, Store: store, Logger: nullLogger{}})

	s := New(Config{
		Pool: pool, Store: store, Breaker: breaker.New(), Logger: nullLogger{},
		Traders: func() []*copytrader.Trader { return []*copytrader.Trader{trader} },
	})
	return s, store
}

func TestHealthReportsActiveSourceAccounts(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "S1")
}

func TestMappingsRequiresSourceQueryParam(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/mappings", nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualDeleteRemovesMappingWithoutClosingDestination(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.CreateMapping(context.Background(), "S1", "111", &domain.Mapping{
		SourceAccountID: "S1", SourcePositionID: "111", DestAccountID: "D1", DestPositionID: "555",
	}))

	req := httptest.NewRequest(http.MethodPost, "/mappings/S1/111", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	mapping, err := store.GetMapping(context.Background(), "S1", "111")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestResyncReturns404WhenMappingAbsent(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mappings/S1/does-not-exist/resync", nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBreakerRouteReturnsSnapshot(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.Breaker.RecordFailure("D1", false, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/breaker", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "D1")
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

var summaryColumns = []string{
	"shop_id", "sku_code", "min_price", "max_price", "competitor_count", "price_details", "scraped_at", "scrape_id",
}

func strPtr(s string) *string { return &s }

func newMockStore(t *testing.T) (*SummaryStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewSummaryStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestUpsertWritesSummaryRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1760000000, 0).UTC()
	low := decimal.RequireFromString("8.5")
	high := decimal.RequireFromString("10")
	details := []pricing.PageResult{
		{URL: "https://a.example", Price: &high, Strategy: "markup", Outcome: pricing.OutcomePriced},
		{URL: "https://b.example", Outcome: pricing.OutcomeTimeout, Error: "product deadline exceeded"},
		{URL: "https://c.example", Price: &low, Strategy: "structured", Outcome: pricing.OutcomePriced},
	}
	summary := pricing.Summarize("shop-1", "KETTLE-01", details, now)
	summary.ScrapeID = "0199a0b2-0000-7000-8000-000000000000"
	detailsJSON, err := json.Marshal(details)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO price_summaries") + "(?s).*" + regexp.QuoteMeta("ON CONFLICT (shop_id, sku_code) DO UPDATE")).
		WithArgs(
			"shop-1",
			"KETTLE-01",
			strPtr("8.50"),
			strPtr("10.00"),
			2,
			detailsJSON,
			now,
			strPtr(summary.ScrapeID),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWritesNullBoundsWithoutPrices(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1760000000, 0).UTC()
	summary := pricing.Summarize("shop-1", "SKU-2", nil, now)

	mock.ExpectExec("INSERT INTO price_summaries").
		WithArgs("shop-1", "SKU-2", (*string)(nil), (*string)(nil), 0, []byte("[]"), now, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWrapsExecError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO price_summaries").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := store.Upsert(context.Background(), pricing.PriceSummary{ShopID: "s", SKUCode: "k"})
	require.ErrorContains(t, err, "upsert price summary")
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.Upsert(context.Background(), pricing.PriceSummary{SKUCode: "k"}))
}

func TestGetDecodesRows(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1760000000, 0).UTC()
	store.now = func() time.Time { return now }

	rows := mock.NewRows(summaryColumns).
		AddRow("shop-1", "KETTLE-01", strPtr("8.50"), strPtr("10.00"), 2,
			[]byte(`[{"url":"https://a.example","price":"10","strategy":"markup","outcome":"priced"},{"url":"https://b.example","price":null,"error":"no price found","outcome":"no_price"}]`),
			now.Add(-10*time.Minute), strPtr("scrape-1")).
		AddRow("shop-1", "TOASTER-02", (*string)(nil), (*string)(nil), 0, []byte(`[]`), now.Add(-20*time.Minute), (*string)(nil))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE shop_id = $1 AND scraped_at >= $2 ORDER BY sku_code")).
		WithArgs("shop-1", now.Add(-time.Hour)).
		WillReturnRows(rows)

	got, err := store.Get(context.Background(), "shop-1", "", time.Hour)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "8.50", got[0].MinPrice.StringFixed(2))
	require.Equal(t, "10.00", got[0].MaxPrice.StringFixed(2))
	require.Equal(t, 2, got[0].CompetitorCount)
	require.Equal(t, "scrape-1", got[0].ScrapeID)
	require.Len(t, got[0].PriceDetails, 2)
	require.Equal(t, pricing.OutcomeNoPrice, got[0].PriceDetails[1].Outcome)
	require.Nil(t, got[0].PriceDetails[1].Price)

	require.Nil(t, got[1].MinPrice)
	require.Nil(t, got[1].MaxPrice)
	require.Empty(t, got[1].ScrapeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFiltersBySKU(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE shop_id = $1 AND sku_code = $2 ORDER BY sku_code")).
		WithArgs("shop-1", "SKU-9").
		WillReturnRows(mock.NewRows(summaryColumns))

	got, err := store.Get(context.Background(), "shop-1", "SKU-9", 0)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSummaryStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSummaryStore(context.Background(), SummaryStoreConfig{})
	require.ErrorIs(t, err, pricing.ErrConfiguration)

	_, err = NewSummaryStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewSummaryStoreWithPool(mock, "summaries; DROP TABLE x")
	require.ErrorIs(t, err, pricing.ErrConfiguration)
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewSummaryStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = store.Ping(context.Background())
	require.ErrorContains(t, err, "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

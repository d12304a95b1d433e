package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

func TestStockLevel(t *testing.T) {
	cases := []struct {
		count, expected int
		want            Level
	}{
		{0, 0, LevelOut},
		{-1, 10, LevelOut},
		{0, 10, LevelOut},
		{15, 0, LevelHigh},
		{14, 0, LevelMedium},
		{6, 0, LevelMedium},
		{5, 0, LevelLow},
		{1, 0, LevelLow},
		{8, 10, LevelHigh},
		{15, 20, LevelHigh},
		{4, 10, LevelMedium},
		{3, 10, LevelLow},
		{30, 10, LevelHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StockLevel(tc.count, tc.expected), "count=%d expected=%d", tc.count, tc.expected)
	}
}

func openTestStore(t *testing.T, cat *catalog.Catalog) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "omnishelf.db"), cat)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func det(code, name string, conf float64, x float64) detection.Detection {
	return detection.Detection{
		Region:             detection.Region{Box: utils.NewBox(x, 10, x+50, 110)},
		ProductCode:        code,
		DisplayName:        name,
		Confidence:         conf,
		VerificationStatus: detection.StatusUnverified,
	}
}

func TestSaveScanPersistsClassifiedDetections(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	dets := []detection.Detection{
		det("grozi_31", "Pringles Original", 0.9, 0),
		det("grozi_31", "Pringles Original", 0.8, 60),
		det(detection.UnclassifiedCode, detection.UnclassifiedName, 0, 120),
		det("grozi_33", "Doritos Nacho Cheese", 0.7, 180),
	}
	scan, err := s.SaveScan(ctx, "", dets, at)
	require.NoError(t, err)

	_, err = uuid.Parse(scan.SessionID)
	require.NoError(t, err)
	assert.Equal(t, DefaultShelfID, scan.ShelfID)
	assert.Equal(t, 3, scan.Detections)
	assert.True(t, at.Equal(scan.ScannedAt))

	stored, err := s.Detections(ctx, scan.SessionID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "grozi_31", stored[0].ProductCode)
	assert.InDelta(t, 60, stored[1].X1, 1e-9)
	assert.Equal(t, "unverified", stored[2].Status)
	assert.True(t, at.Equal(stored[2].Timestamp))

	scans, err := s.Scans(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, scan.SessionID, scans[0].SessionID)
}

func TestStockSummaryUsesLatestScanPerShelf(t *testing.T) {
	cat, err := catalog.New([]catalog.Entry{
		{Code: "grozi_31", DisplayName: "Pringles Original", Category: "Snacks", UnitPrice: 2.99, ExpectedCount: 4},
		{Code: "grozi_33", DisplayName: "Doritos Nacho Cheese", Category: "Snacks", UnitPrice: 4.99},
	})
	require.NoError(t, err)
	s := openTestStore(t, cat)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Older scan of shelf A still has Doritos; the newer one does not.
	_, err = s.SaveScan(ctx, "A", []detection.Detection{
		det("grozi_31", "Pringles Original", 0.9, 0),
		det("grozi_33", "Doritos Nacho Cheese", 0.9, 60),
	}, t0)
	require.NoError(t, err)
	_, err = s.SaveScan(ctx, "A", []detection.Detection{
		det("grozi_31", "Pringles Original", 0.9, 0),
		det("grozi_31", "Pringles Original", 0.9, 60),
	}, t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.SaveScan(ctx, "B", []detection.Detection{
		det("grozi_31", "Pringles Original", 0.9, 0),
	}, t0.Add(30*time.Minute))
	require.NoError(t, err)

	summary, err := s.StockSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	doritos, pringles := summary[0], summary[1]
	assert.Equal(t, "Doritos Nacho Cheese", doritos.Name)
	assert.Equal(t, 0, doritos.TotalCount)
	assert.Equal(t, LevelOut, doritos.Level)
	assert.Zero(t, doritos.InventoryValue)
	assert.True(t, t0.Equal(doritos.LastSeen))

	assert.Equal(t, "grozi_31", pringles.Code)
	assert.Equal(t, 3, pringles.TotalCount)
	assert.Equal(t, 4, pringles.ExpectedCount)
	assert.Equal(t, LevelHigh, pringles.Level)
	assert.Equal(t, "Snacks", pringles.Category)
	assert.InDelta(t, 3*2.99, pringles.InventoryValue, 1e-9)
	assert.True(t, t0.Add(time.Hour).Equal(pringles.LastSeen))

	assert.InDelta(t, 3*2.99, TotalValue(summary), 1e-9)
}

func TestStockSummaryEmpty(t *testing.T) {
	s := openTestStore(t, nil)
	summary, err := s.StockSummary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnishelf.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	_, err = s.SaveScan(context.Background(), "A", []detection.Detection{det("grozi_19", "Coca Cola", 0.9, 0)}, time.Time{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	summary, err := s.StockSummary(context.Background())
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "Coca Cola", summary[0].Name)
	assert.Equal(t, 1, summary[0].TotalCount)
	assert.Equal(t, LevelLow, summary[0].Level)
	assert.InDelta(t, 1.89, summary[0].InventoryValue, 1e-9)
}

package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omnishelf/internal/testutil"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	assert.Equal(t, 9, c.Len())

	e, ok := c.Lookup("grozi_6")
	require.True(t, ok)
	assert.Equal(t, "Barilla Spaghetti", e.DisplayName)
	assert.Equal(t, "Pasta & Grains", e.Category)
	assert.InDelta(t, 2.49, e.UnitPrice, 1e-9)
}

func TestResolveFallbacks(t *testing.T) {
	c := Default()
	assert.Equal(t, "grozi_999", c.DisplayName("grozi_999"))
	assert.Equal(t, DefaultCategory, c.Category("grozi_999"))
	assert.Zero(t, c.Price("grozi_999"))
	_, ok := c.Lookup("grozi_999")
	assert.False(t, ok)
}

func TestCodeForName(t *testing.T) {
	c := Default()
	code, ok := c.CodeForName("  doritos   NACHO cheese ")
	require.True(t, ok)
	assert.Equal(t, "grozi_33", code)

	code, ok = c.CodeForName("Lay’s Classic Chips")
	require.True(t, ok)
	assert.Equal(t, "grozi_32", code)

	_, ok = c.CodeForName("Pepsi")
	assert.False(t, ok)
}

func TestNewRejectsBadEntries(t *testing.T) {
	_, err := New([]Entry{{Code: ""}})
	require.Error(t, err)

	_, err = New([]Entry{{Code: "a"}, {Code: "a"}})
	require.Error(t, err)

	_, err = New([]Entry{{Code: "a", UnitPrice: -1}})
	require.Error(t, err)

	c, err := New([]Entry{{Code: "a"}})
	require.NoError(t, err)
	assert.Equal(t, "a", c.DisplayName("a"))
	assert.Equal(t, DefaultCategory, c.Category("a"))
}

func TestLoadRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)

	path := testutil.WriteCatalog(t, string(data))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Entries(), c.Entries())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(testutil.WriteCatalog(t, "products: []\n"))
	require.Error(t, err)

	c, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, 9, c.Len())
}

func TestLoadCustomCatalog(t *testing.T) {
	path := testutil.WriteCatalog(t, `products:
  - code: store_1
    display_name: House Brand Cola
    category: Beverages
    unit_price: 0.99
    expected_count: 24
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	e, ok := c.Lookup("store_1")
	require.True(t, ok)
	assert.Equal(t, "House Brand Cola", e.DisplayName)
	assert.Equal(t, 24, e.ExpectedCount)
	assert.InDelta(t, 0.99, e.UnitPrice, 1e-9)

	code, ok := c.CodeForName("house brand cola")
	require.True(t, ok)
	assert.Equal(t, "store_1", code)
}

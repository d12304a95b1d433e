package catalog

// defaultEntries is the demo catalog of Grozi-120 products.
var defaultEntries = []Entry{
	{Code: "grozi_6", DisplayName: "Barilla Spaghetti", Category: "Pasta & Grains", UnitPrice: 2.49},
	{Code: "grozi_19", DisplayName: "Coca Cola", Category: "Beverages", UnitPrice: 1.89},
	{Code: "grozi_29", DisplayName: "Nutella Hazelnut Spread", Category: "Spreads & Condiments", UnitPrice: 5.99},
	{Code: "grozi_31", DisplayName: "Pringles Original", Category: "Snacks", UnitPrice: 2.99},
	{Code: "grozi_32", DisplayName: "Lay's Classic Chips", Category: "Snacks", UnitPrice: 4.49},
	{Code: "grozi_33", DisplayName: "Doritos Nacho Cheese", Category: "Snacks", UnitPrice: 4.99},
	{Code: "grozi_69", DisplayName: "Kellogg's Corn Flakes", Category: "Breakfast & Cereal", UnitPrice: 5.49},
	{Code: "grozi_110", DisplayName: "Philadelphia Cream Cheese", Category: "Dairy", UnitPrice: 4.99},
	{Code: "grozi_115", DisplayName: "Heinz Tomato Ketchup", Category: "Spreads & Condiments", UnitPrice: 3.29},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultEntries)
	if err != nil {
		panic(err)
	}
	return c
}

package stores

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVolume(t *testing.T) {
	tests := []struct {
		name   string
		wantML float64
		wantOK bool
	}{
		{"Jim Beam 700ml", 700, true},
		{"Villa Maria Sauv Blanc 1.5L", 1500, true},
		{"Old Mout Cider 1lt", 1000, true},
		{"Heineken 12 x 330ml Bottles", 330, true},
		{"Plain Lager", 0, false},
		{"Speights 6 pack", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseVolume(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantML, got)
			}
		})
	}
}

func TestBarcodeFromURL(t *testing.T) {
	got, ok := BarcodeFromURL("https://cdn.example.com/img/9421903696847-bottle.jpg")
	assert.True(t, ok)
	assert.Equal(t, "9421903696847", got)

	_, ok = BarcodeFromURL("https://cdn.example.com/img/12345678-thumb.jpg")
	assert.False(t, ok, "short digit runs are noise, not barcodes")

	_, ok = BarcodeFromURL("https://cdn.example.com/img/bottle.jpg")
	assert.False(t, ok)
}

func TestCategoryFromSegment(t *testing.T) {
	got, ok := CategoryFromSegment("craft-beer")
	assert.True(t, ok)
	assert.Equal(t, CategoryBeer, got)

	got, ok = CategoryFromSegment("Wines")
	assert.True(t, ok)
	assert.Equal(t, CategoryWine, got)

	_, ok = CategoryFromSegment("gift-boxes")
	assert.False(t, ok)
}

func TestItemKey(t *testing.T) {
	withBarcode := Item{Name: "A", Brand: "X", Barcode: "9421903696847", InternalSku: "1"}
	sameBarcode := Item{Name: "B", Brand: "Y", Barcode: "9421903696847", InternalSku: "2"}
	assert.Equal(t, withBarcode.Key(), sameBarcode.Key(), "barcode dominates identity")

	noBarcode := Item{Name: "C", Brand: "X", InternalSku: "1"}
	otherBrand := Item{Name: "C", Brand: "Y", InternalSku: "1"}
	assert.NotEqual(t, noBarcode.Key(), otherBrand.Key(), "sku identity is brand-scoped")
}

package henrys

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pisspricer/pisspricer-scraper/pkg/fanout"
	"github.com/pisspricer/pisspricer-scraper/pkg/stores"
)

const locationsPage = `<html><body>
<store-locations :locations='[
	{"title":"Henry&apos;s Botany","uri":"store-locations/botany","regions":"Auckland",
	 "locationAddress":"286 Te Irirangi Drive\nEast Tamaki\nAuckland 2013",
	 "locationCoordinates":[{"latitude":"-36.9541","longitude":"174.9106"}],
	 "siteID":77},
	{"title":"Broken Store","uri":"store-locations/broken","regions":"Auckland",
	 "locationAddress":"x","locationCoordinates":[],"siteID":78}
]'></store-locations>
</body></html>`

func productPage(sku string) string {
	return fmt.Sprintf(`<html><head>
<script type="application/ld+json">{"@graph":[{"@type":"Product","sku":%s}]}</script>
</head><body>
<img class="w-full" src="https://cdn.example/%s.jpg">
</body></html>`, sku, sku)
}

func newTestServer(t *testing.T) (*httptest.Server, *Extractor) {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/store-locations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, locationsPage)
	})
	mux.HandleFunc("/api/products", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "0" {
			fmt.Fprintf(w, `{"totalPages":1,"products":[
				{"id":501,"title":"Test Ale 330ml","url":"%s/products/test-ale",
				 "productPrice":24.99,"isOnSpecial":false,"sites":[77],"subDepartmentKey":24350}
			]}`, srv.URL)
			return
		}
		fmt.Fprintf(w, `{"totalPages":1,"products":[
			{"id":502,"title":"Test Pinot","url":"%s/products/test-pinot",
			 "productPrice":19.99,"savings":5.0,"isOnSpecial":true,"sites":[77,88],"subDepartmentKey":13651},
			{"id":503,"title":"Mystery Box","url":"%s/products/mystery",
			 "productPrice":50,"isOnSpecial":false,"sites":[77],"subDepartmentKey":99999}
		]}`, srv.URL, srv.URL)
	})
	mux.HandleFunc("/products/test-ale", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, productPage("9421903696847"))
	})
	mux.HandleFunc("/products/test-pinot", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, productPage("9414528000000"))
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	e := New(stores.Deps{
		HTTP: srv.Client(),
		Exec: fanout.New(srv.Client(), time.Second),
		Log:  zaptest.NewLogger(t).Sugar(),
	})
	e.BaseURL = srv.URL
	return srv, e
}

func TestFetchLocations(t *testing.T) {
	_, e := newTestServer(t)

	locs, err := e.FetchLocations()
	require.NoError(t, err)
	require.Len(t, locs, 1, "the entry without coordinates is dropped")

	loc := locs[0]
	assert.Equal(t, "Henry's Botany", loc.Name)
	assert.Equal(t, "77", loc.InternalID)
	assert.Equal(t, "286 Te Irirangi Drive, East Tamaki, Auckland", loc.Address)
	assert.Equal(t, "2013", loc.Postcode)
	assert.Equal(t, "Auckland", loc.Region)
	require.NotNil(t, loc.Latitude)
	assert.InDelta(t, -36.9541, *loc.Latitude, 0.0001)
	assert.True(t, strings.HasSuffix(loc.URL, "/store-locations/botany"))
	assert.True(t, loc.Complete(), "the locator carries everything, no geocoding needed")
}

func TestFetchItems(t *testing.T) {
	_, e := newTestServer(t)

	remote := []stores.Store{{StoreID: 9, BrandID: 7, InternalID: "77", Name: "Henry's Botany"}}
	items, skipped, err := e.FetchItems(remote)
	require.NoError(t, err)

	require.Len(t, skipped, 1, "unknown sub-department keys are skipped, not guessed")
	assert.Equal(t, "Mystery Box", skipped[0].Name)

	// site 88 has no matching store, so each product lands once at store 9
	require.Len(t, items, 2)
	byName := map[string]stores.Item{}
	for _, it := range items {
		assert.Equal(t, 9, it.StoreID)
		byName[it.Name] = it
	}

	ale := byName["Test Ale 330ml"]
	assert.Equal(t, stores.CategoryBeer, ale.Category)
	assert.Equal(t, "501", ale.InternalSku)
	assert.Equal(t, "9421903696847", ale.Barcode)
	assert.Equal(t, "https://cdn.example/9421903696847.jpg", ale.ImageURL)
	assert.Equal(t, 24.99, ale.Price)
	assert.Nil(t, ale.SalePrice)
	require.NotNil(t, ale.VolumeEach)
	assert.Equal(t, 330.0, *ale.VolumeEach)

	pinot := byName["Test Pinot"]
	assert.Equal(t, stores.CategoryWine, pinot.Category)
	require.NotNil(t, pinot.SalePrice)
	assert.Equal(t, 19.99, *pinot.SalePrice)
	assert.Equal(t, 24.99, pinot.Price, "shelf price is sale price plus savings")
	assert.Equal(t, "9414528000000", pinot.Barcode)
}

func TestCategoryForKeyPrefersCiderForSharedKey(t *testing.T) {
	got, ok := categoryForKey(13587)
	require.True(t, ok)
	assert.Equal(t, stores.CategoryCider, got)
}

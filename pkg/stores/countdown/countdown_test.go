package countdown

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pisspricer/pisspricer-scraper/pkg/fanout"
	"github.com/pisspricer/pisspricer-scraper/pkg/stores"
)

type fakeShop struct {
	mu            sync.Mutex
	selectedStore int
	facetCookies  []string
}

func (f *fakeShop) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/addresses/pickup-addresses", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OnlineShopping.WebApp", r.Header.Get("x-requested-with"))
		fmt.Fprint(w, `{"storeAreas":[{"storeAddresses":[
			{"id":1234,"name":"Countdown Ponsonby","address":"4 Williamson Ave, Grey Lynn, Auckland"},
			{"id":5678,"name":"Countdown Newtown","address":"100 Riddiford St, Newtown, Wellington"}
		]}]}`)
	})
	mux.HandleFunc("/fulfilment/my/pickup-addresses", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		var body struct {
			AddressID int `json:"addressId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.selectedStore = body.AddressID
		f.mu.Unlock()
	})
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("size") == "":
			// session handshake
			http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "sess-1"})
			fmt.Fprint(w, `{}`)
		case q.Get("page") == "":
			// first catalogue page: facet discovery
			fmt.Fprint(w, `{"dasFacets":[
				{"name":"Craft Beer","productCount":1},
				{"name":"Red Wine","productCount":1}
			]}`)
		default:
			cookie, err := r.Cookie("ASP.NET_SessionId")
			require.NoError(t, err, "facet pages must carry the session cookie")
			f.mu.Lock()
			f.facetCookies = append(f.facetCookies, cookie.Value)
			f.mu.Unlock()
			fmt.Fprint(w, `{"products":{"items":[{
				"name":"Test Ale","brand":"Testco","barcode":"94219036968","sku":"cd-77",
				"price":{"originalPrice":21.99,"salePrice":18.99,"isSpecial":true},
				"size":{"volumeSize":"330ml"},
				"images":{"big":"https://cdn.example/94219036968.jpg"}
			}]}}`)
		}
	})
	return mux
}

func newExtractor(t *testing.T, srv *httptest.Server) *Extractor {
	t.Helper()
	e := New(stores.Deps{
		HTTP: srv.Client(),
		Exec: fanout.New(srv.Client(), time.Second),
		Log:  zaptest.NewLogger(t).Sugar(),
	})
	e.BaseURL = srv.URL
	e.StoreURL = srv.URL
	return e
}

func TestFetchLocations(t *testing.T) {
	shop := &fakeShop{}
	srv := httptest.NewServer(shop.handler(t))
	defer srv.Close()

	locs, err := newExtractor(t, srv).FetchLocations()
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "Countdown Ponsonby", locs[0].Name)
	assert.Equal(t, "1234", locs[0].InternalID)
	assert.Equal(t, "4 Williamson Ave, Grey Lynn, Auckland, New Zealand", locs[0].Address)
	assert.False(t, locs[0].Complete(), "locator has no coordinates, geocoding is required")
}

func TestFetchItemsWalksStoresAndFacets(t *testing.T) {
	shop := &fakeShop{}
	srv := httptest.NewServer(shop.handler(t))
	defer srv.Close()

	remote := []stores.Store{{StoreID: 42, BrandID: 5, InternalID: "1234", Name: "Countdown Ponsonby"}}
	items, skipped, err := newExtractor(t, srv).FetchItems(remote)
	require.NoError(t, err)
	assert.Empty(t, skipped)

	assert.Equal(t, 1234, shop.selectedStore)
	require.Len(t, items, 2, "one item per facet page")
	for _, cv := range shop.facetCookies {
		assert.Equal(t, "sess-1", cv)
	}

	byCategory := map[string]stores.Item{}
	for _, it := range items {
		byCategory[it.Category] = it
	}

	beer, ok := byCategory["Craft Beer"]
	require.True(t, ok)
	assert.Equal(t, "Test Ale 330ml", beer.Name)
	assert.Equal(t, "94219036968", beer.Barcode)
	assert.Equal(t, 21.99, beer.Price)
	require.NotNil(t, beer.SalePrice)
	assert.Equal(t, 18.99, *beer.SalePrice)
	require.NotNil(t, beer.VolumeEach)
	assert.Equal(t, 330.0, *beer.VolumeEach)
	assert.Equal(t, 42, beer.StoreID)

	wine, ok := byCategory[stores.CategoryWine]
	require.True(t, ok, "wine facets map to the wine category")
	assert.Equal(t, "Red Wine", wine.Subcategory)
}

func TestFetchItemsSkipsStoreWhenSelectionFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "sess-1"})
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("/fulfilment/my/pickup-addresses", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such store", http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	remote := []stores.Store{{StoreID: 42, BrandID: 5, InternalID: "9999"}}
	items, skipped, err := newExtractor(t, srv).FetchItems(remote)
	require.NoError(t, err, "a failing store is skipped, not fatal")
	assert.Empty(t, items)
	assert.Empty(t, skipped)
}

func TestFetchItemsFailsWithoutSessionCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	_, _, err := newExtractor(t, srv).FetchItems(nil)
	require.Error(t, err)
	var rerr *stores.RetailerError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "countdown", rerr.Retailer)
}

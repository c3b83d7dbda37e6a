package pisspricer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeAPI is a minimal in-memory pricing API for cache tests.
type fakeAPI struct {
	mu             sync.Mutex
	regions        []Region
	categories     []Category
	nextID         int
	regionCreates  int
	categoryPosts  int
	subcategoryOps int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"authToken": "tok"})
	})
	mux.HandleFunc("/regions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			var body struct {
				Name string `json:"name"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.nextID++
			f.regionCreates++
			f.regions = append(f.regions, Region{RegionID: f.nextID, Name: body.Name})
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]int{"regionId": f.nextID})
			return
		}
		json.NewEncoder(w).Encode(f.regions)
	})
	mux.HandleFunc("/categories", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			var body struct {
				Category string `json:"category"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.nextID++
			f.categoryPosts++
			f.categories = append(f.categories, Category{CategoryID: f.nextID, Name: body.Category})
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]int{"categoryId": f.nextID})
			return
		}
		json.NewEncoder(w).Encode(f.categories)
	})
	mux.HandleFunc("/categories/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextID++
		f.subcategoryOps++
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]int{"subcategoryId": f.nextID})
	})
	mux.HandleFunc("/barcodes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]int{"9414": {101, 999}})
	})
	mux.HandleFunc("/internalids", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]int{"cd-1": {202}})
	})
	return mux
}

func newTestCache(t *testing.T, f *fakeAPI) *RefCache {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c, err := Login(srv.URL, "a@b.c", "pw", srv.Client(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return NewRefCache(c)
}

func TestRegionIDMatchesCaseInsensitively(t *testing.T) {
	api := &fakeAPI{}
	rc := newTestCache(t, api)
	require.NoError(t, rc.LoadRegions())

	id1, err := rc.RegionID("Auckland", nil, nil)
	require.NoError(t, err)
	id2, err := rc.RegionID("auckland", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, api.regionCreates, "second lookup must not create")
}

func TestRegionIDUsesExistingRemoteRegions(t *testing.T) {
	api := &fakeAPI{regions: []Region{{RegionID: 7, Name: "Otago"}}}
	rc := newTestCache(t, api)
	require.NoError(t, rc.LoadRegions())

	id, err := rc.RegionID("OTAGO", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, id)
	assert.Zero(t, api.regionCreates)
}

func TestCategoryGetOrCreate(t *testing.T) {
	api := &fakeAPI{categories: []Category{{
		CategoryID:    3,
		Name:          "beer",
		Subcategories: []Subcategory{{SubcategoryID: 31, Name: "lager"}},
	}}}
	rc := newTestCache(t, api)
	require.NoError(t, rc.LoadCategories())

	id, err := rc.CategoryID("Beer")
	require.NoError(t, err)
	assert.Equal(t, 3, id)
	assert.Zero(t, api.categoryPosts)

	subID, err := rc.SubcategoryID(3, "Lager")
	require.NoError(t, err)
	assert.Equal(t, 31, subID)
	assert.Zero(t, api.subcategoryOps)

	newID, err := rc.CategoryID("wine")
	require.NoError(t, err)
	again, err := rc.CategoryID("Wine")
	require.NoError(t, err)
	assert.Equal(t, newID, again)
	assert.Equal(t, 1, api.categoryPosts)

	newSub, err := rc.SubcategoryID(newID, "Pinot Noir")
	require.NoError(t, err)
	subAgain, err := rc.SubcategoryID(newID, "pinot noir")
	require.NoError(t, err)
	assert.Equal(t, newSub, subAgain)
	assert.Equal(t, 1, api.subcategoryOps)
}

func TestResolveSkuPrefersBarcode(t *testing.T) {
	rc := newTestCache(t, &fakeAPI{})
	require.NoError(t, rc.LoadIndices(5))

	sku, ok := rc.ResolveSku("9414", "cd-1")
	require.True(t, ok)
	assert.Equal(t, 101, sku, "first sku of the barcode list wins")

	sku, ok = rc.ResolveSku("", "cd-1")
	require.True(t, ok)
	assert.Equal(t, 202, sku)

	_, ok = rc.ResolveSku("unknown", "unknown")
	assert.False(t, ok)
}

func TestRegisterCreatedItemIsVisibleImmediately(t *testing.T) {
	rc := newTestCache(t, &fakeAPI{})
	require.NoError(t, rc.LoadIndices(5))

	_, ok := rc.ResolveSku("12345", "")
	require.False(t, ok)

	rc.RegisterCreatedItem("12345", "ll-9", 303)

	sku, ok := rc.ResolveSku("12345", "")
	require.True(t, ok)
	assert.Equal(t, 303, sku)
	sku, ok = rc.ResolveSku("", "ll-9")
	require.True(t, ok)
	assert.Equal(t, 303, sku)
}

func TestLoginFailureIsAnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad creds", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Login(srv.URL, "a@b.c", "wrong", srv.Client(), zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Error(), fmt.Sprint(http.StatusUnauthorized))
}

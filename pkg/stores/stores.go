package stores

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pisspricer/pisspricer-scraper/pkg/fanout"
)

// Item is one normalized product offer at one store, produced by an
// extractor and consumed by the reconciliation pipeline. Category and
// Subcategory are retailer-reported names; the pipeline resolves them to
// remote ids. StoreID is the pricing API's store id, already mapped from
// the retailer's own identifier.
type Item struct {
	Name        string
	Brand       string
	Barcode     string
	InternalSku string
	Category    string
	Subcategory string
	Price       float64
	SalePrice   *float64
	Stock       string
	VolumeEach  *float64 // millilitres; nil when unknown
	ImageURL    string
	URL         string
	StoreID     int
}

// Key returns the identity key used to decide whether a remote item already
// exists: barcode when present, else internal sku scoped to the brand.
func (it Item) Key() string {
	if it.Barcode != "" {
		return "barcode:" + it.Barcode
	}
	return "sku:" + it.Brand + ":" + it.InternalSku
}

// Location is a retailer store as reported by its store locator. Fields the
// locator does not provide are left nil/empty; the onboarding pipeline
// geocodes the address to fill them in.
type Location struct {
	Name       string
	URL        string
	InternalID string
	Address    string
	Postcode   string
	Region     string
	RegionLat  *float64
	RegionLng  *float64
	Latitude   *float64
	Longitude  *float64
}

// Complete reports whether the location carries everything the pricing API
// needs without a geocoder round trip.
func (l Location) Complete() bool {
	return l.Region != "" && l.Latitude != nil && l.Longitude != nil &&
		l.Postcode != "" && l.Address != ""
}

// Store is a store record already known to the pricing API.
type Store struct {
	StoreID    int    `json:"storeId"`
	BrandID    int    `json:"brandId"`
	InternalID string `json:"internalId"`
	Name       string `json:"name"`
}

// Skipped records one item that could not be extracted, with the reason.
// Extractors return these instead of silently dropping items.
type Skipped struct {
	Name string
	Err  error
}

// Extractor converts one retailer's public surface into normalized
// locations and items. FetchItems receives the retailer's stores as known
// to the pricing API so items can be attributed to store ids.
type Extractor interface {
	Name() string
	BrandID() int
	FetchLocations() ([]Location, error)
	FetchItems(remote []Store) ([]Item, []Skipped, error)
}

// Deps is everything a retailer extractor needs from the surrounding run.
type Deps struct {
	HTTP     *http.Client
	Exec     *fanout.Executor
	Log      *zap.SugaredLogger
	Progress fanout.Progress
}

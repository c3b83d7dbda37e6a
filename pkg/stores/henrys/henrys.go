// Package henrys extracts items and store locations from the Henry's
// website: a paginated products API for the catalogue, plus one rendered
// product page per item to pick up the barcode (ld+json) and image, and a
// store-locations page with the location list embedded as a JSON attribute.
package henrys

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/pisspricer/pisspricer-scraper/pkg/fanout"
	"github.com/pisspricer/pisspricer-scraper/pkg/stores"
)

const (
	brandID        = 7
	defaultBaseURL = "https://www.henrys.co.nz"
)

func init() {
	stores.Register("henrys", func(deps stores.Deps) stores.Extractor {
		return New(deps)
	})
}

// categoryIDs is the union of Henry's department ids that hold liquor.
var categoryIDs = []int{
	16639, 16642, 16643, 16644, 16648, 16649,
	23625, 23626, 23627, 23628, 23629, 23630, 23633, 23634, 23635,
	13577, 13579, 13580, 13583, 13587,
	13650, 13651, 13652, 13653, 13654, 13655, 13656, 13657, 13658,
	13659, 13660, 13661, 13662, 13663, 13664, 13667, 13670, 13672,
	24349, 24350, 24351, 24352, 24589, 24673, 24674, 24675, 24676,
	24677, 24679, 24680,
}

// Sub-department key sets onto the closed category set. Ordering matters:
// 13587 appears in the historical beer set too, cider must win.
var (
	ciderKeys = keySet(13587)
	beerKeys  = keySet(24350, 24680, 24675, 24676, 24677, 24349, 24351,
		24352, 24589, 24673, 24674, 24679)
	wineKeys = keySet(13651, 13650, 13652, 13653, 13654, 13655, 13656,
		13579, 13658, 13659, 13660, 13661, 13662, 13664, 13583, 13657,
		13667, 13580, 13663, 13670, 13672, 13577)
	spiritKeys  = keySet(23625, 23626, 23627, 23628, 23634, 23630, 23633, 23635)
	liqueurKeys = keySet(23629)
	rtdKeys     = keySet(16639, 16642, 16643, 16644, 16648, 16649)
)

func keySet(keys ...int) map[int]bool {
	m := make(map[int]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

func categoryForKey(key int) (string, bool) {
	switch {
	case ciderKeys[key]:
		return stores.CategoryCider, true
	case beerKeys[key]:
		return stores.CategoryBeer, true
	case wineKeys[key]:
		return stores.CategoryWine, true
	case spiritKeys[key]:
		return stores.CategorySpirits, true
	case liqueurKeys[key]:
		return stores.CategoryLiqueurs, true
	case rtdKeys[key]:
		return stores.CategoryRTD, true
	}
	return "", false
}

// Extractor scrapes Henry's. BaseURL is settable for tests.
type Extractor struct {
	BaseURL string

	http     *http.Client
	exec     *fanout.Executor
	log      *zap.SugaredLogger
	progress fanout.Progress
}

func New(deps stores.Deps) *Extractor {
	hc := deps.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Extractor{
		BaseURL:  defaultBaseURL,
		http:     hc,
		exec:     deps.Exec,
		log:      deps.Log,
		progress: deps.Progress,
	}
}

func (e *Extractor) Name() string { return "henrys" }
func (e *Extractor) BrandID() int { return brandID }

type locatorEntry struct {
	Title               string      `json:"title"`
	URI                 string      `json:"uri"`
	Regions             string      `json:"regions"`
	LocationAddress     string      `json:"locationAddress"`
	LocationCoordinates []struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"locationCoordinates"`
	SiteID json.Number `json:"siteID"`
}

// FetchLocations scrapes the store-locations page. The page embeds the
// full location list as a JSON attribute on a <store-locations> element;
// the address's last four characters are the postcode.
func (e *Extractor) FetchLocations() ([]stores.Location, error) {
	u := e.BaseURL + "/store-locations"
	res, err := e.http.Get(u)
	if err != nil {
		return nil, fmt.Errorf("henrys: fetching locations: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, &stores.RetailerError{Retailer: "henrys", Task: "fetching locations", Status: res.StatusCode, URL: u}
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("henrys: parsing locations page: %w", err)
	}
	raw, ok := doc.Find("store-locations").Attr(":locations")
	if !ok {
		return nil, &stores.RetailerError{Retailer: "henrys", Task: "fetching locations (no location data on page)", Status: res.StatusCode, URL: u}
	}

	var entries []locatorEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("henrys: decoding embedded locations: %w", err)
	}

	var locs []stores.Location
	for _, entry := range entries {
		loc, err := normalizeLocation(e.BaseURL, entry)
		if err != nil {
			e.log.Warnw("skipping location", "location", entry.Title, "error", err)
			continue
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func normalizeLocation(baseURL string, entry locatorEntry) (stores.Location, error) {
	if len(entry.LocationAddress) <= 4 {
		return stores.Location{}, &stores.ExtractionError{Retailer: "henrys", Item: entry.Title, Reason: "address too short"}
	}
	if len(entry.LocationCoordinates) == 0 {
		return stores.Location{}, &stores.ExtractionError{Retailer: "henrys", Item: entry.Title, Reason: "no coordinates"}
	}
	lat, err := strconv.ParseFloat(entry.LocationCoordinates[0].Latitude, 64)
	if err != nil {
		return stores.Location{}, &stores.ExtractionError{Retailer: "henrys", Item: entry.Title, Reason: "bad latitude"}
	}
	lng, err := strconv.ParseFloat(entry.LocationCoordinates[0].Longitude, 64)
	if err != nil {
		return stores.Location{}, &stores.ExtractionError{Retailer: "henrys", Item: entry.Title, Reason: "bad longitude"}
	}

	cut := len(entry.LocationAddress) - 4
	address := strings.ReplaceAll(strings.TrimSpace(entry.LocationAddress[:cut]), "\n", ", ")
	postcode := entry.LocationAddress[cut:]

	return stores.Location{
		Name:       entry.Title,
		URL:        baseURL + "/" + strings.TrimPrefix(entry.URI, "/"),
		Region:     entry.Regions,
		Address:    strings.TrimSuffix(strings.TrimSpace(address), ","),
		Postcode:   postcode,
		Latitude:   &lat,
		Longitude:  &lng,
		InternalID: entry.SiteID.String(),
	}, nil
}

type productsPage struct {
	TotalPages json.Number     `json:"totalPages"`
	Products   []henrysProduct `json:"products"`
}

type henrysProduct struct {
	ID               json.Number   `json:"id"`
	Title            string        `json:"title"`
	URL              string        `json:"url"`
	ProductPrice     float64       `json:"productPrice"`
	Savings          *float64      `json:"savings"`
	IsOnSpecial      bool          `json:"isOnSpecial"`
	Sites            []json.Number `json:"sites"`
	SubDepartmentKey int           `json:"subDepartmentKey"`
}

// FetchItems pulls the paginated catalogue (page 0 discovers totalPages,
// the rest are fanned out), normalizes each product, enriches it with
// barcode and image from its rendered product page, then expands it per
// site into one Item per known store.
func (e *Extractor) FetchItems(remote []stores.Store) ([]stores.Item, []stores.Skipped, error) {
	products, err := e.fetchProducts()
	if err != nil {
		return nil, nil, err
	}

	var protos []stores.Item
	var sites [][]json.Number
	var skipped []stores.Skipped
	for _, raw := range products {
		it, err := normalizeProduct(raw)
		if err != nil {
			skipped = append(skipped, stores.Skipped{Name: raw.Title, Err: err})
			continue
		}
		protos = append(protos, it)
		sites = append(sites, raw.Sites)
	}

	e.attachProductPages(protos)

	storeByInternal := make(map[string]int, len(remote))
	for _, st := range remote {
		storeByInternal[st.InternalID] = st.StoreID
	}

	var items []stores.Item
	for i, proto := range protos {
		for _, site := range sites[i] {
			storeID, ok := storeByInternal[site.String()]
			if !ok {
				continue
			}
			it := proto
			it.StoreID = storeID
			items = append(items, it)
		}
	}
	return items, skipped, nil
}

func (e *Extractor) productsURL(page int) string {
	ids := make([]string, len(categoryIDs))
	for i, id := range categoryIDs {
		ids[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("%s/api/products?categories=%s&page=%d", e.BaseURL, strings.Join(ids, ","), page)
}

func (e *Extractor) fetchProducts() ([]henrysProduct, error) {
	u := e.productsURL(0)
	res, err := e.http.Get(u)
	if err != nil {
		return nil, fmt.Errorf("henrys: fetching catalogue: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, &stores.RetailerError{Retailer: "henrys", Task: "fetching catalogue", Status: res.StatusCode, URL: u}
	}
	var first productsPage
	if err := json.NewDecoder(res.Body).Decode(&first); err != nil {
		return nil, fmt.Errorf("henrys: decoding catalogue: %w", err)
	}

	totalPages, err := first.TotalPages.Int64()
	if err != nil {
		return nil, fmt.Errorf("henrys: bad totalPages %q: %w", first.TotalPages, err)
	}

	wave := make([]fanout.Request, 0, totalPages)
	for page := 1; page <= int(totalPages); page++ {
		wave = append(wave, fanout.NewRequest(http.MethodGet, e.productsURL(page)))
	}
	results := e.exec.Do(wave, "henrys: fetching catalogue pages", e.progress)

	products := first.Products
	for _, res := range results {
		if !res.OK() {
			e.log.Warnw("catalogue page failed", "status", res.StatusCode, "error", res.Err)
			continue
		}
		var page productsPage
		if err := res.JSON(&page); err != nil {
			e.log.Warnw("catalogue page unreadable", "error", err)
			continue
		}
		products = append(products, page.Products...)
	}
	return products, nil
}

func normalizeProduct(raw henrysProduct) (stores.Item, error) {
	if raw.Title == "" {
		return stores.Item{}, &stores.ExtractionError{Retailer: "henrys", Item: raw.ID.String(), Reason: "missing title"}
	}
	category, ok := categoryForKey(raw.SubDepartmentKey)
	if !ok {
		return stores.Item{}, &stores.ExtractionError{Retailer: "henrys", Item: raw.Title,
			Reason: fmt.Sprintf("unknown sub-department key %d", raw.SubDepartmentKey)}
	}

	it := stores.Item{
		Name:        raw.Title,
		Category:    category,
		InternalSku: raw.ID.String(),
		URL:         raw.URL,
	}
	if raw.IsOnSpecial && raw.Savings != nil {
		sale := round2(raw.ProductPrice)
		it.SalePrice = &sale
		it.Price = round2(sale + *raw.Savings)
	} else {
		it.Price = round2(raw.ProductPrice)
	}
	if vol, ok := stores.ParseVolume(raw.Title); ok {
		it.VolumeEach = &vol
	}
	return it, nil
}

// attachProductPages fans out one GET per product page and fills in the
// barcode and image URL in place. A failed or unparseable page leaves the
// item without a barcode; identity then falls back to the internal sku.
func (e *Extractor) attachProductPages(protos []stores.Item) {
	wave := make([]fanout.Request, len(protos))
	for i, proto := range protos {
		wave[i] = fanout.NewRequest(http.MethodGet, proto.URL)
	}
	results := e.exec.Do(wave, "henrys: fetching product pages", e.progress)
	for i, res := range results {
		if !res.OK() {
			e.log.Warnw("product page failed", "item", protos[i].Name, "status", res.StatusCode, "error", res.Err)
			continue
		}
		barcode, image, err := parseProductPage(res.Body)
		if err != nil {
			e.log.Warnw("product page unreadable", "item", protos[i].Name, "error", err)
			continue
		}
		protos[i].Barcode = barcode
		protos[i].ImageURL = image
	}
}

type ldDocument struct {
	Graph []struct {
		Sku json.Number `json:"sku"`
	} `json:"@graph"`
}

func parseProductPage(body []byte) (barcode, image string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "sku") {
			return true
		}
		var ld ldDocument
		if err := json.Unmarshal([]byte(text), &ld); err != nil || len(ld.Graph) == 0 {
			return true
		}
		barcode = ld.Graph[0].Sku.String()
		return false
	})

	image = doc.Find("img.w-full").AttrOr("src", "")
	return barcode, image, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

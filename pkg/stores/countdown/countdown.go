// Package countdown extracts items and store locations from the Countdown
// shopping API. The API is session-bound: a store is "selected" against an
// ASP.NET session cookie, after which catalogue pages reflect that store's
// pricing, so stores are walked sequentially and only the catalogue pages
// within one store are fanned out.
package countdown

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pisspricer/pisspricer-scraper/pkg/fanout"
	"github.com/pisspricer/pisspricer-scraper/pkg/stores"
)

const (
	brandID   = 5
	itemsPath = "/products?dasFilter=Department%3B%3Bbeer-wine%3Bfalse&target=browse"
	pageSize  = 120

	defaultBaseURL  = "https://shop.countdown.co.nz/api/v1"
	defaultStoreURL = "https://shop.countdown.co.nz"

	requestedWithHeader = "x-requested-with"
	requestedWithValue  = "OnlineShopping.WebApp"
	sessionCookieName   = "ASP.NET_SessionId"
)

func init() {
	stores.Register("countdown", func(deps stores.Deps) stores.Extractor {
		return New(deps)
	})
}

// Extractor scrapes Countdown. BaseURL and StoreURL are settable for
// tests.
type Extractor struct {
	BaseURL  string
	StoreURL string

	http     *http.Client
	exec     *fanout.Executor
	log      *zap.SugaredLogger
	progress fanout.Progress

	session *http.Cookie
}

func New(deps stores.Deps) *Extractor {
	hc := deps.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Extractor{
		BaseURL:  defaultBaseURL,
		StoreURL: defaultStoreURL,
		http:     hc,
		exec:     deps.Exec,
		log:      deps.Log,
		progress: deps.Progress,
	}
}

func (e *Extractor) Name() string { return "countdown" }
func (e *Extractor) BrandID() int { return brandID }

// ensureSession performs the cookie handshake: the first catalogue GET
// hands back the session cookie every later call must carry.
func (e *Extractor) ensureSession() error {
	if e.session != nil {
		return nil
	}
	req, err := http.NewRequest(http.MethodGet, e.BaseURL+itemsPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set(requestedWithHeader, requestedWithValue)
	res, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("countdown: opening session: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &stores.RetailerError{Retailer: "countdown", Task: "opening session", Status: res.StatusCode, URL: e.BaseURL + itemsPath}
	}
	for _, c := range res.Cookies() {
		if c.Name == sessionCookieName {
			e.session = c
			return nil
		}
	}
	return &stores.RetailerError{Retailer: "countdown", Task: "opening session (no cookie)", Status: res.StatusCode, URL: e.BaseURL + itemsPath}
}

// setStore binds the session to one pickup store so catalogue pages carry
// that store's prices.
func (e *Extractor) setStore(internalID string) error {
	id, err := strconv.Atoi(internalID)
	if err != nil {
		return fmt.Errorf("countdown: bad internal id %q: %w", internalID, err)
	}
	body, err := json.Marshal(map[string]int{"addressId": id})
	if err != nil {
		return err
	}
	u := e.BaseURL + "/fulfilment/my/pickup-addresses"
	req, err := http.NewRequest(http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(requestedWithHeader, requestedWithValue)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(e.session)
	res, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("countdown: selecting store %s: %w", internalID, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &stores.RetailerError{Retailer: "countdown", Task: "selecting store " + internalID, Status: res.StatusCode, URL: u}
	}
	return nil
}

type pickupAddresses struct {
	StoreAreas []struct {
		StoreAddresses []struct {
			ID      int    `json:"id"`
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"storeAddresses"`
	} `json:"storeAreas"`
}

// FetchLocations lists Countdown's pickup stores. The locator has no
// region or coordinates, so every new store goes through the geocoder
// during onboarding.
func (e *Extractor) FetchLocations() ([]stores.Location, error) {
	u := e.BaseURL + "/addresses/pickup-addresses"
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(requestedWithHeader, requestedWithValue)
	res, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("countdown: fetching locations: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, &stores.RetailerError{Retailer: "countdown", Task: "fetching locations", Status: res.StatusCode, URL: u}
	}

	var body pickupAddresses
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("countdown: decoding locations: %w", err)
	}
	if len(body.StoreAreas) == 0 {
		return nil, nil
	}

	var locs []stores.Location
	for _, addr := range body.StoreAreas[0].StoreAddresses {
		locs = append(locs, stores.Location{
			Name:       addr.Name,
			URL:        e.StoreURL,
			InternalID: strconv.Itoa(addr.ID),
			Address:    addr.Address + ", New Zealand",
		})
	}
	return locs, nil
}

type catalogPage struct {
	DasFacets []struct {
		Name         string `json:"name"`
		ProductCount int    `json:"productCount"`
	} `json:"dasFacets"`
	Products struct {
		Items []cdItem `json:"items"`
	} `json:"products"`
}

type cdItem struct {
	Name    string `json:"name"`
	Brand   string `json:"brand"`
	Barcode string `json:"barcode"`
	Sku     string `json:"sku"`
	Price   struct {
		OriginalPrice float64 `json:"originalPrice"`
		SalePrice     float64 `json:"salePrice"`
		IsSpecial     bool    `json:"isSpecial"`
	} `json:"price"`
	Size struct {
		VolumeSize string `json:"volumeSize"`
	} `json:"size"`
	Images struct {
		Big string `json:"big"`
	} `json:"images"`
}

type facetContext struct {
	category    string
	subcategory string
}

// FetchItems walks every remote store: select it, discover the aisle
// facets from the first catalogue page, then fan out every facet page and
// normalize the products. A store whose selection or first page fails is
// skipped whole; single bad products land in the skipped list.
func (e *Extractor) FetchItems(remote []stores.Store) ([]stores.Item, []stores.Skipped, error) {
	if err := e.ensureSession(); err != nil {
		return nil, nil, err
	}

	var items []stores.Item
	var skipped []stores.Skipped

	label := "countdown: walking stores"
	for si, st := range remote {
		e.report(si+1, len(remote), label)

		if err := e.setStore(st.InternalID); err != nil {
			e.log.Warnw("skipping store", "store", st.Name, "error", err)
			continue
		}

		first, err := e.fetchFirstPage()
		if err != nil {
			e.log.Warnw("skipping store, first catalogue page failed", "store", st.Name, "error", err)
			continue
		}

		wave, contexts := e.facetWave(first)
		results := e.exec.Do(wave, fmt.Sprintf("countdown: %s items", st.Name), e.progress)
		for i, res := range results {
			if !res.OK() {
				e.log.Warnw("catalogue page failed", "store", st.Name,
					"category", contexts[i].category, "status", res.StatusCode, "error", res.Err)
				continue
			}
			var page catalogPage
			if err := res.JSON(&page); err != nil {
				e.log.Warnw("catalogue page unreadable", "store", st.Name, "error", err)
				continue
			}
			for _, raw := range page.Products.Items {
				it, err := normalize(raw, contexts[i], st.StoreID)
				if err != nil {
					skipped = append(skipped, stores.Skipped{Name: raw.Name, Err: err})
					continue
				}
				items = append(items, it)
			}
		}
	}
	return items, skipped, nil
}

func (e *Extractor) fetchFirstPage() (*catalogPage, error) {
	u := e.BaseURL + itemsPath + fmt.Sprintf("&size=%d", pageSize)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(requestedWithHeader, requestedWithValue)
	req.AddCookie(e.session)
	res, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, &stores.RetailerError{Retailer: "countdown", Task: "fetching catalogue", Status: res.StatusCode, URL: u}
	}
	var page catalogPage
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

// facetWave builds one page request per facet page. Facet names containing
// "wine" become subcategories of wine; every other facet is a category of
// its own.
func (e *Extractor) facetWave(first *catalogPage) ([]fanout.Request, []facetContext) {
	var wave []fanout.Request
	var contexts []facetContext
	for _, facet := range first.DasFacets {
		fc := facetContext{category: facet.Name}
		if strings.Contains(strings.ToLower(facet.Name), "wine") {
			fc = facetContext{category: stores.CategoryWine, subcategory: facet.Name}
		}
		slug := strings.ReplaceAll(strings.ReplaceAll(facet.Name, " ", "-"), "&", "")
		pages := (facet.ProductCount + pageSize - 1) / pageSize
		for page := 1; page <= pages; page++ {
			u := e.BaseURL + itemsPath +
				fmt.Sprintf("&size=%d&page=%d&dasFilter=Aisle;;%s;false", pageSize, page, slug)
			req := fanout.NewRequest(http.MethodGet, u)
			req.Header.Set(requestedWithHeader, requestedWithValue)
			req.Cookies = []*http.Cookie{e.session}
			wave = append(wave, req)
			contexts = append(contexts, fc)
		}
	}
	return wave, contexts
}

func normalize(raw cdItem, fc facetContext, storeID int) (stores.Item, error) {
	if raw.Name == "" {
		return stores.Item{}, &stores.ExtractionError{Retailer: "countdown", Item: raw.Sku, Reason: "missing name"}
	}
	if raw.Price.OriginalPrice <= 0 {
		return stores.Item{}, &stores.ExtractionError{Retailer: "countdown", Item: raw.Name, Reason: "missing price"}
	}

	name := raw.Name
	if raw.Size.VolumeSize != "" {
		name += " " + raw.Size.VolumeSize
	}
	it := stores.Item{
		Name:        name,
		Brand:       raw.Brand,
		Barcode:     raw.Barcode,
		InternalSku: raw.Sku,
		Category:    fc.category,
		Subcategory: fc.subcategory,
		Price:       raw.Price.OriginalPrice,
		ImageURL:    raw.Images.Big,
		StoreID:     storeID,
	}
	if raw.Price.IsSpecial {
		sale := raw.Price.SalePrice
		it.SalePrice = &sale
	}
	if vol, ok := stores.ParseVolume(name); ok {
		it.VolumeEach = &vol
	}
	return it, nil
}

func (e *Extractor) report(done, total int, label string) {
	if e.progress != nil {
		e.progress(done, total, label)
	}
}

// Package liquorland extracts items and store locations from Liquorland.
// The store locator is a plain JSON branch list; the catalogue has no API,
// so items come from a crawl of the shop site's category listings. Pricing
// is national, so each crawled product is expanded across every store.
package liquorland

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pisspricer/pisspricer-scraper/pkg/stores"
)

const (
	brandID = 6

	defaultLocatorURL = "https://www.liquorland.co.nz/themes/liquorland/scripts/StoreFinder/branches.json?v6"
	defaultShopURL    = "https://www.shop.liquorland.co.nz"

	// Branch ids outside this range are head office, web-only and test
	// entries, not physical stores.
	minBranchID = 99
	maxBranchID = 999

	maxCrawlDepth = 6
)

func init() {
	stores.Register("liquorland", func(deps stores.Deps) stores.Extractor {
		return New(deps)
	})
}

// Extractor scrapes Liquorland. LocatorURL and ShopURL are settable for
// tests, as are the crawl's Parallelism and Delay.
type Extractor struct {
	LocatorURL  string
	ShopURL     string
	Parallelism int
	Delay       time.Duration

	http *http.Client
	log  *zap.SugaredLogger
}

func New(deps stores.Deps) *Extractor {
	hc := deps.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Extractor{
		LocatorURL:  defaultLocatorURL,
		ShopURL:     defaultShopURL,
		Parallelism: 4,
		Delay:       500 * time.Millisecond,
		http:        hc,
		log:         deps.Log,
	}
}

func (e *Extractor) Name() string { return "liquorland" }
func (e *Extractor) BrandID() int { return brandID }

type branch struct {
	ID       int    `json:"ID"`
	Name     string `json:"Name"`
	Address1 string `json:"Address1"`
	Address2 string `json:"Address2"`
	City     string `json:"City"`
	State    string `json:"State"`
	PostCode string `json:"PostCode"`
}

// FetchLocations pulls the branch list from the store finder. Branches
// carry no region or coordinates, so new stores are geocoded during
// onboarding.
func (e *Extractor) FetchLocations() ([]stores.Location, error) {
	res, err := e.http.Get(e.LocatorURL)
	if err != nil {
		return nil, fmt.Errorf("liquorland: fetching locations: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, &stores.RetailerError{Retailer: "liquorland", Task: "fetching locations", Status: res.StatusCode, URL: e.LocatorURL}
	}

	var branches []branch
	if err := json.NewDecoder(res.Body).Decode(&branches); err != nil {
		return nil, fmt.Errorf("liquorland: decoding locations: %w", err)
	}

	var locs []stores.Location
	for _, br := range branches {
		if br.ID <= minBranchID || br.ID >= maxBranchID {
			continue
		}
		locs = append(locs, stores.Location{
			Name:       br.Name,
			URL:        e.ShopURL,
			InternalID: fmt.Sprintf("%d", br.ID),
			Address:    branchAddress(br),
			Postcode:   br.PostCode,
		})
	}
	return locs, nil
}

func branchAddress(br branch) string {
	parts := []string{br.Address1}
	for _, p := range []string{br.Address2, br.City, br.State, br.PostCode} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ") + ", New Zealand"
}

// FetchItems crawls the shop site's category listings. Product tiles are
// collected once each and then expanded across all stores, since Liquorland
// prices nationally.
func (e *Extractor) FetchItems(remote []stores.Store) ([]stores.Item, []stores.Skipped, error) {
	shop, err := url.Parse(e.ShopURL)
	if err != nil {
		return nil, nil, fmt.Errorf("liquorland: bad shop url %q: %w", e.ShopURL, err)
	}

	var (
		mu      sync.Mutex
		protos  = make(map[string]stores.Item)
		skipped []stores.Skipped
	)

	c := colly.NewCollector(
		colly.AllowedDomains(shop.Hostname()),
		colly.MaxDepth(maxCrawlDepth),
		colly.Async(true),
	)
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: e.Parallelism,
		Delay:       e.Delay,
	})

	c.OnHTML("a[href]", func(el *colly.HTMLElement) {
		link := el.Request.AbsoluteURL(el.Attr("href"))
		if err := c.Visit(link); err != nil &&
			!strings.Contains(err.Error(), "already visited") &&
			!strings.Contains(err.Error(), "forbidden domain") &&
			!strings.Contains(err.Error(), "max depth") {
			e.log.Debugw("not following link", "url", link, "error", err)
		}
	})

	c.OnHTML("div.product-tile", func(el *colly.HTMLElement) {
		it, err := tileItem(el)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			skipped = append(skipped, stores.Skipped{Name: el.ChildText("h3.product-name"), Err: err})
			return
		}
		if _, seen := protos[it.Key()]; !seen {
			protos[it.Key()] = it
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		e.log.Warnw("crawl request failed", "url", r.Request.URL.String(), "status", r.StatusCode, "error", err)
	})

	if err := c.Visit(e.ShopURL); err != nil {
		return nil, nil, fmt.Errorf("liquorland: starting crawl: %w", err)
	}
	c.Wait()

	var items []stores.Item
	for _, proto := range protos {
		for _, st := range remote {
			it := proto
			it.StoreID = st.StoreID
			items = append(items, it)
		}
	}
	return items, skipped, nil
}

// tileItem turns one product tile into an Item. The category comes from the
// first path segment of the listing URL; the barcode is embedded in the
// image filename.
func tileItem(el *colly.HTMLElement) (stores.Item, error) {
	name := strings.TrimSpace(el.ChildText("h3.product-name"))
	if name == "" {
		return stores.Item{}, &stores.ExtractionError{Retailer: "liquorland", Item: el.Request.URL.String(), Reason: "missing name"}
	}

	segment := strings.SplitN(strings.TrimPrefix(el.Request.URL.Path, "/"), "/", 2)[0]
	category, ok := stores.CategoryFromSegment(segment)
	if !ok {
		return stores.Item{}, &stores.ExtractionError{Retailer: "liquorland", Item: name,
			Reason: fmt.Sprintf("unrecognized category segment %q", segment)}
	}

	price, err := parsePrice(el.ChildText("span.price"))
	if err != nil {
		return stores.Item{}, &stores.ExtractionError{Retailer: "liquorland", Item: name, Reason: "missing price"}
	}

	it := stores.Item{
		Name:        name,
		InternalSku: el.Attr("data-sku"),
		Category:    category,
		Price:       price,
		ImageURL:    el.ChildAttr("img.product-image", "src"),
		URL:         el.Request.AbsoluteURL(el.ChildAttr("a", "href")),
	}
	if sale, err := parsePrice(el.ChildText("span.special-price")); err == nil {
		it.SalePrice = &sale
	}
	if barcode, ok := stores.BarcodeFromURL(it.ImageURL); ok {
		it.Barcode = barcode
	}
	if it.Barcode == "" && it.InternalSku == "" {
		return stores.Item{}, &stores.ExtractionError{Retailer: "liquorland", Item: name, Reason: "no barcode or sku"}
	}
	if vol, ok := stores.ParseVolume(name); ok {
		it.VolumeEach = &vol
	}
	return it, nil
}

func parsePrice(text string) (float64, error) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "$"))
	if text == "" {
		return 0, fmt.Errorf("empty price")
	}
	var v float64
	if _, err := fmt.Sscanf(strings.ReplaceAll(text, ",", ""), "%f", &v); err != nil {
		return 0, fmt.Errorf("bad price %q: %w", text, err)
	}
	return v, nil
}

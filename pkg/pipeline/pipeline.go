// Package pipeline drives one retailer's sync run end to end: load the
// remote identity indices, reconcile extracted items against them, create
// whatever is missing, then upload images and prices.
//
// Stages run strictly sequentially and each stage is a single fan-out
// wave. Reconciliation itself (category resolution, identity checks, the
// pending-create queue) runs on the driving goroutine before anything is
// fanned out; that two-phase collect-then-dispatch shape is what keeps the
// de-duplication index consistent without locks.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pisspricer/pisspricer-scraper/pkg/fanout"
	"github.com/pisspricer/pisspricer-scraper/pkg/geocode"
	"github.com/pisspricer/pisspricer-scraper/pkg/images"
	"github.com/pisspricer/pisspricer-scraper/pkg/pisspricer"
	"github.com/pisspricer/pisspricer-scraper/pkg/stores"
)

// Pipeline owns the per-run collaborators. Build one per run.
type Pipeline struct {
	api      *pisspricer.Client
	cache    *pisspricer.RefCache
	geo      *geocode.Client
	exec     *fanout.Executor
	log      *zap.SugaredLogger
	progress fanout.Progress
}

// Options wires a Pipeline. API, Exec and Log are required; Geocoder is
// only needed for store onboarding; Progress may be nil.
type Options struct {
	API      *pisspricer.Client
	Geocoder *geocode.Client
	Exec     *fanout.Executor
	Log      *zap.SugaredLogger
	Progress fanout.Progress
}

func New(opts Options) *Pipeline {
	return &Pipeline{
		api:      opts.API,
		cache:    pisspricer.NewRefCache(opts.API),
		geo:      opts.Geocoder,
		exec:     opts.Exec,
		log:      opts.Log,
		progress: opts.Progress,
	}
}

// SyncStores onboards the retailer's stores: locations not yet known to
// the pricing API (by internal id) are geocoded where incomplete, their
// regions get-or-created sequentially, and the new stores posted in one
// wave. A geocode failure skips that store only.
func (p *Pipeline) SyncStores(ext stores.Extractor) error {
	locs, err := ext.FetchLocations()
	if err != nil {
		return fmt.Errorf("%s: fetching locations: %w", ext.Name(), err)
	}
	remote, err := p.api.Stores(ext.BrandID())
	if err != nil {
		return err
	}
	if err := p.cache.LoadRegions(); err != nil {
		return err
	}

	known := make(map[string]bool, len(remote))
	for _, s := range remote {
		known[s.InternalID] = true
	}

	label := ext.Name() + ": checking stores"
	var wave []fanout.Request
	for i, loc := range locs {
		p.report(i+1, len(locs), label)
		if known[loc.InternalID] {
			continue
		}
		payload, err := p.storePayload(ext.BrandID(), loc)
		if err != nil {
			var gerr *geocode.Error
			var aerr *pisspricer.APIError
			switch {
			case errors.As(err, &gerr):
				p.log.Warnw("skipping store, geocode failed", "store", loc.Name, "error", err)
			case errors.As(err, &aerr):
				p.log.Warnw("skipping store, region create failed", "store", loc.Name, "error", err)
			default:
				return err
			}
			continue
		}
		wave = append(wave, p.api.NewRequest(http.MethodPost, "/stores", payload))
	}

	results := p.exec.Do(wave, ext.Name()+": posting stores", p.progress)
	posted := 0
	for _, res := range results {
		if res.Err != nil {
			p.log.Warnw("posting store failed", "error", res.Err)
			continue
		}
		if res.StatusCode != http.StatusCreated {
			p.log.Warnw("posting store rejected", "status", res.StatusCode)
			continue
		}
		posted++
	}
	p.log.Infow("store sync complete", "retailer", ext.Name(),
		"locations", len(locs), "new", len(wave), "posted", posted)
	return nil
}

func (p *Pipeline) storePayload(brandID int, loc stores.Location) (pisspricer.StorePayload, error) {
	region := loc.Region
	lat, lng := loc.Latitude, loc.Longitude
	address, postcode := loc.Address, loc.Postcode

	if !loc.Complete() {
		geo, err := p.geo.Geocode(loc.Name + ", " + loc.Address)
		if err != nil {
			return pisspricer.StorePayload{}, err
		}
		lat, lng = &geo.Lat, &geo.Lng
		address, postcode, region = geo.Address, geo.Postcode, geo.Region
	}

	regionID, err := p.cache.RegionID(region, loc.RegionLat, loc.RegionLng)
	if err != nil {
		return pisspricer.StorePayload{}, err
	}
	return pisspricer.StorePayload{
		Name:       loc.Name,
		URL:        loc.URL,
		BrandID:    brandID,
		RegionID:   regionID,
		Lat:        lat,
		Lng:        lng,
		Postcode:   postcode,
		Address:    address,
		InternalID: loc.InternalID,
	}, nil
}

// SyncItems runs the full item reconciliation for one retailer: extract,
// de-duplicate against the remote indices, create new items, upload
// missing images (gated on the /allitems hasImage snapshot), then PUT all
// price records. Per-item failures are logged and skipped; only shared
// setup aborts the run.
func (p *Pipeline) SyncItems(ext stores.Extractor) error {
	brandID := ext.BrandID()
	remote, err := p.api.Stores(brandID)
	if err != nil {
		return err
	}
	if err := p.cache.LoadCategories(); err != nil {
		return err
	}
	if err := p.cache.LoadIndices(brandID); err != nil {
		return err
	}

	items, skipped, err := ext.FetchItems(remote)
	if err != nil {
		return fmt.Errorf("%s: fetching items: %w", ext.Name(), err)
	}
	for _, s := range skipped {
		p.log.Warnw("item skipped during extraction", "retailer", ext.Name(), "item", s.Name, "error", s.Err)
	}

	wave, createByID := p.collectCreates(ext.Name(), items)
	created, createFailed := p.runCreates(ext.Name(), wave, createByID)
	imagesUploaded, err := p.syncImages(ext.Name(), items)
	if err != nil {
		return err
	}
	prices := p.syncPrices(ext.Name(), items)

	p.log.Infow("item sync complete", "retailer", ext.Name(),
		"items", len(items), "skipped", len(skipped),
		"created", created, "createFailed", createFailed,
		"images", imagesUploaded, "prices", prices)
	return nil
}

type createContext struct {
	barcode     string
	internalSku string
	name        string
}

// collectCreates walks the extracted items once, resolving reference data
// and queueing a create for the first occurrence of each unseen identity
// key. Later occurrences of a key are dropped here and pick the sku up
// from the cache after the wave.
func (p *Pipeline) collectCreates(retailer string, items []stores.Item) ([]fanout.Request, map[string]createContext) {
	pending := map[string]bool{}
	createByID := map[string]createContext{}
	var wave []fanout.Request

	label := retailer + ": reconciling items"
	for i, it := range items {
		p.report(i+1, len(items), label)

		if _, ok := p.cache.ResolveSku(it.Barcode, it.InternalSku); ok {
			continue // seen_remote
		}
		key := it.Key()
		if pending[key] {
			continue
		}

		if it.Category == "" {
			p.log.Warnw("item has no category, not creating", "retailer", retailer, "item", it.Name)
			continue
		}
		catID, err := p.cache.CategoryID(it.Category)
		if err != nil {
			p.log.Warnw("category create failed, skipping item", "item", it.Name, "error", err)
			continue
		}
		var subID *int
		if it.Subcategory != "" {
			id, err := p.cache.SubcategoryID(catID, it.Subcategory)
			if err != nil {
				p.log.Warnw("subcategory create failed, skipping item", "item", it.Name, "error", err)
				continue
			}
			subID = &id
		}

		req := p.api.NewRequest(http.MethodPost, "/items", pisspricer.ItemPayload{
			Name:          it.Name,
			Brand:         it.Brand,
			Barcode:       it.Barcode,
			CategoryID:    catID,
			SubcategoryID: subID,
			VolumeEach:    it.VolumeEach,
			Stock:         it.Stock,
			InternalSku:   it.InternalSku,
			URL:           it.URL,
		})
		pending[key] = true
		createByID[req.ID] = createContext{barcode: it.Barcode, internalSku: it.InternalSku, name: it.Name}
		wave = append(wave, req)
	}
	return wave, createByID
}

// runCreates fans out the create wave and registers each returned sku in
// the identity index immediately, so image and price stages resolve them.
func (p *Pipeline) runCreates(retailer string, wave []fanout.Request, createByID map[string]createContext) (created, failed int) {
	results := p.exec.Do(wave, retailer+": creating items", p.progress)
	for _, res := range results {
		cc := createByID[res.ID]
		if res.Err != nil {
			p.log.Warnw("item create failed", "item", cc.name, "error", res.Err, "timeout", res.TimedOut())
			failed++
			continue
		}
		if res.StatusCode != http.StatusCreated {
			p.log.Warnw("item create rejected", "item", cc.name, "status", res.StatusCode)
			failed++
			continue
		}
		var out struct {
			Sku int `json:"sku"`
		}
		if err := res.JSON(&out); err != nil {
			p.log.Warnw("item create returned unreadable body", "item", cc.name, "error", err)
			failed++
			continue
		}
		p.cache.RegisterCreatedItem(cc.barcode, cc.internalSku, out.Sku)
		created++
	}
	return created, failed
}

// syncImages downloads and uploads images for every resolved item whose
// remote record has none yet. The /allitems snapshot is fetched once; a
// download timeout or processing failure only loses that image, never the
// item's price upload.
func (p *Pipeline) syncImages(retailer string, items []stores.Item) (int, error) {
	snapshot, err := p.api.AllItems()
	if err != nil {
		return 0, err
	}
	hasImage := make(map[int]bool, len(snapshot))
	for _, rec := range snapshot {
		hasImage[rec.Sku] = rec.HasImage
	}

	var skus []int
	urlBySku := map[int]string{}
	for _, it := range items {
		sku, ok := p.cache.ResolveSku(it.Barcode, it.InternalSku)
		if !ok || it.ImageURL == "" || hasImage[sku] {
			continue
		}
		if _, seen := urlBySku[sku]; seen {
			continue
		}
		urlBySku[sku] = it.ImageURL
		skus = append(skus, sku)
	}

	getWave := make([]fanout.Request, len(skus))
	for i, sku := range skus {
		getWave[i] = fanout.NewRequest(http.MethodGet, urlBySku[sku])
	}
	getResults := p.exec.Do(getWave, retailer+": downloading images", p.progress)

	var putWave []fanout.Request
	for i, res := range getResults {
		sku := skus[i]
		if !res.OK() {
			if res.TimedOut() {
				p.log.Warnw("image download timed out", "sku", sku, "url", urlBySku[sku])
			} else {
				p.log.Warnw("image download failed", "sku", sku, "status", res.StatusCode, "error", res.Err)
			}
			continue
		}
		jpeg, err := images.Process(res.Body)
		if err != nil {
			p.log.Warnw("image processing failed", "sku", sku, "error", err)
			continue
		}
		putWave = append(putWave, p.api.NewImageRequest(sku, jpeg))
	}

	putResults := p.exec.Do(putWave, retailer+": uploading images", p.progress)
	uploaded := 0
	for _, res := range putResults {
		if res.Err != nil || (res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated) {
			p.log.Warnw("image upload failed", "status", res.StatusCode, "error", res.Err)
			continue
		}
		uploaded++
	}
	return uploaded, nil
}

// syncPrices PUTs one price record per (sku, store) pair, first occurrence
// wins. Rejected PUTs are logged, never retried, and never fail the run.
func (p *Pipeline) syncPrices(retailer string, items []stores.Item) int {
	seen := map[string]bool{}
	var wave []fanout.Request
	for _, it := range items {
		sku, ok := p.cache.ResolveSku(it.Barcode, it.InternalSku)
		if !ok {
			continue // never created remotely; create_failed is terminal
		}
		pair := fmt.Sprintf("%d/%d", sku, it.StoreID)
		if seen[pair] {
			continue
		}
		seen[pair] = true
		wave = append(wave, p.api.NewPriceRequest(sku, it.StoreID, pisspricer.PricePayload{
			Price:       it.Price,
			SalePrice:   it.SalePrice,
			InternalSku: it.InternalSku,
		}))
	}

	results := p.exec.Do(wave, retailer+": uploading prices", p.progress)
	uploaded := 0
	for _, res := range results {
		if res.Err != nil || (res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated) {
			p.log.Warnw("price upload failed", "status", res.StatusCode, "error", res.Err, "timeout", res.TimedOut())
			continue
		}
		uploaded++
	}
	return uploaded
}

func (p *Pipeline) report(done, total int, label string) {
	if p.progress != nil {
		p.progress(done, total, label)
	}
}

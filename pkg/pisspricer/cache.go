package pisspricer

import (
	"strings"
	"unicode"
)

// RefCache is the in-process mirror of remote reference data (regions,
// categories/subcategories) and the flat identity indices (barcodes,
// internal skus). Lookups are get-or-create: a miss creates the resource
// remotely and inserts it, so the rest of the run sees it. The cache is
// driven from a single goroutine per run; creates of reference data are
// never fanned out, which is what prevents duplicate-create races against
// an API with no server-side uniqueness.
type RefCache struct {
	client *Client

	regions    []Region
	catsByName map[string]*catEntry
	catsByID   map[int]*catEntry
	barcodes   map[string]int
	internals  map[string]int
}

type catEntry struct {
	id   int
	subs map[string]int
}

// NewRefCache returns an empty cache bound to a client. Call the Load
// methods before use; load failures are fatal to the run.
func NewRefCache(c *Client) *RefCache {
	return &RefCache{
		client:     c,
		catsByName: map[string]*catEntry{},
		catsByID:   map[int]*catEntry{},
		barcodes:   map[string]int{},
		internals:  map[string]int{},
	}
}

// LoadRegions mirrors the remote region list.
func (rc *RefCache) LoadRegions() error {
	regions, err := rc.client.Regions()
	if err != nil {
		return err
	}
	rc.regions = regions
	return nil
}

// LoadCategories mirrors the remote category tree.
func (rc *RefCache) LoadCategories() error {
	cats, err := rc.client.Categories()
	if err != nil {
		return err
	}
	for _, cat := range cats {
		entry := &catEntry{id: cat.CategoryID, subs: map[string]int{}}
		for _, sub := range cat.Subcategories {
			entry.subs[strings.ToLower(sub.Name)] = sub.SubcategoryID
		}
		rc.catsByName[strings.ToLower(cat.Name)] = entry
		rc.catsByID[cat.CategoryID] = entry
	}
	return nil
}

// LoadIndices mirrors the barcode and internal-sku identity indices for one
// brand.
func (rc *RefCache) LoadIndices(brandID int) error {
	barcodes, err := rc.client.Barcodes()
	if err != nil {
		return err
	}
	for barcode, skus := range barcodes {
		if len(skus) > 0 {
			rc.barcodes[barcode] = skus[0]
		}
	}
	internals, err := rc.client.InternalSkus(brandID)
	if err != nil {
		return err
	}
	for internal, skus := range internals {
		if len(skus) > 0 {
			rc.internals[internal] = skus[0]
		}
	}
	return nil
}

// RegionID resolves a region name to its id, creating the region remotely
// on first sight. Names are compared case-insensitively after
// title-casing, so "auckland" and "Auckland" are the same region.
func (rc *RefCache) RegionID(name string, lat, lng *float64) (int, error) {
	name = titleCase(name)
	for _, r := range rc.regions {
		if strings.EqualFold(r.Name, name) {
			return r.RegionID, nil
		}
	}
	id, err := rc.client.CreateRegion(name, lat, lng)
	if err != nil {
		return 0, err
	}
	rc.regions = append(rc.regions, Region{RegionID: id, Name: name, Lat: lat, Lng: lng})
	return id, nil
}

// CategoryID resolves a category name to its id, creating it on first
// sight. Names are matched case-insensitively and stored lowercase.
func (rc *RefCache) CategoryID(name string) (int, error) {
	key := strings.ToLower(name)
	if entry, ok := rc.catsByName[key]; ok {
		return entry.id, nil
	}
	id, err := rc.client.CreateCategory(key)
	if err != nil {
		return 0, err
	}
	entry := &catEntry{id: id, subs: map[string]int{}}
	rc.catsByName[key] = entry
	rc.catsByID[id] = entry
	return id, nil
}

// SubcategoryID resolves a subcategory name scoped to its parent category,
// creating it on first sight.
func (rc *RefCache) SubcategoryID(categoryID int, name string) (int, error) {
	entry, ok := rc.catsByID[categoryID]
	if !ok {
		entry = &catEntry{id: categoryID, subs: map[string]int{}}
		rc.catsByID[categoryID] = entry
	}
	key := strings.ToLower(name)
	if id, ok := entry.subs[key]; ok {
		return id, nil
	}
	id, err := rc.client.CreateSubcategory(categoryID, key)
	if err != nil {
		return 0, err
	}
	entry.subs[key] = id
	return id, nil
}

// ResolveSku returns the remote sku for an identity key: barcode when
// known, else internal sku.
func (rc *RefCache) ResolveSku(barcode, internalSku string) (int, bool) {
	if barcode != "" {
		if sku, ok := rc.barcodes[barcode]; ok {
			return sku, true
		}
	}
	if internalSku != "" {
		if sku, ok := rc.internals[internalSku]; ok {
			return sku, true
		}
	}
	return 0, false
}

// RegisterCreatedItem records a newly created item's sku so later lookups
// in the same run resolve it. Must be called right after a successful
// create, before the next identity check.
func (rc *RefCache) RegisterCreatedItem(barcode, internalSku string, sku int) {
	if barcode != "" {
		rc.barcodes[barcode] = sku
	}
	if internalSku != "" {
		rc.internals[internalSku] = sku
	}
}

// titleCase uppercases the first rune and lowercases the rest, matching
// how region names are stored remotely.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// Package pisspricer is the client side of the central pricing API: login,
// the reference reads/creates, item creation, and the price/image uploads.
// One Client is built per run and passed into every component that talks to
// the API; there is no package-level state.
package pisspricer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/pisspricer/pisspricer-scraper/pkg/fanout"
	"github.com/pisspricer/pisspricer-scraper/pkg/stores"
)

// Region as stored remotely. The API spells latitude "lattitude" on the
// wire; that spelling is the API's, not ours.
type Region struct {
	RegionID int      `json:"regionId"`
	Name     string   `json:"name"`
	Lat      *float64 `json:"lattitude"`
	Lng      *float64 `json:"longitude"`
}

type Subcategory struct {
	SubcategoryID int    `json:"subcategoryId"`
	Name          string `json:"subcategory"`
}

type Category struct {
	CategoryID    int           `json:"categoryId"`
	Name          string        `json:"category"`
	Subcategories []Subcategory `json:"subcategories"`
}

// ItemRecord is one row of the /allitems snapshot.
type ItemRecord struct {
	Sku      int  `json:"sku"`
	HasImage bool `json:"hasImage"`
}

// StorePayload is the POST /stores body.
type StorePayload struct {
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	BrandID    int      `json:"brandId"`
	RegionID   int      `json:"regionId"`
	Lat        *float64 `json:"lattitude,omitempty"`
	Lng        *float64 `json:"longitude,omitempty"`
	Postcode   string   `json:"postcode,omitempty"`
	Address    string   `json:"address"`
	InternalID string   `json:"internalId"`
}

// ItemPayload is the POST /items body.
type ItemPayload struct {
	Name          string   `json:"name"`
	Brand         string   `json:"brand,omitempty"`
	Barcode       string   `json:"barcode,omitempty"`
	CategoryID    int      `json:"categoryId"`
	SubcategoryID *int     `json:"subcategoryId,omitempty"`
	VolumeEach    *float64 `json:"volumeEach,omitempty"`
	Stock         string   `json:"stock,omitempty"`
	InternalSku   string   `json:"internalSku,omitempty"`
	URL           string   `json:"url,omitempty"`
}

// PricePayload is the PUT /items/{sku}/stores/{storeId} body.
type PricePayload struct {
	Price       float64  `json:"price"`
	SalePrice   *float64 `json:"salePrice,omitempty"`
	InternalSku string   `json:"internalSku,omitempty"`
}

// Client talks to one pricing API deployment with one auth token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.SugaredLogger
}

// Login authenticates against the pricing API and returns a ready Client.
// A login failure is fatal to the run; every later step depends on the
// token.
func Login(baseURL, email, password string, hc *http.Client, log *zap.SugaredLogger) (*Client, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	res, err := hc.Post(baseURL+"/users/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pisspricer login: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, apiError("logging in", res.StatusCode, baseURL+"/users/login")
	}
	var auth struct {
		AuthToken string `json:"authToken"`
	}
	if err := json.NewDecoder(res.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("pisspricer login: decoding response: %w", err)
	}
	return &Client{baseURL: baseURL, token: auth.AuthToken, http: hc, log: log}, nil
}

// BaseURL returns the API root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// NewRequest builds an authenticated fan-out request for path under the API
// root, ready to be added to a wave.
func (c *Client) NewRequest(method, path string, payload interface{}) fanout.Request {
	r := fanout.NewRequest(method, c.baseURL+path)
	r.Header.Set("X-Authorization", c.token)
	r.JSON = payload
	return r
}

// NewImageRequest builds an authenticated PUT of a processed JPEG to
// /items/{sku}/image.
func (c *Client) NewImageRequest(sku int, jpeg []byte) fanout.Request {
	r := fanout.NewRequest(http.MethodPut, fmt.Sprintf("%s/items/%d/image", c.baseURL, sku))
	r.Header.Set("X-Authorization", c.token)
	r.Body = jpeg
	r.ContentType = "image/jpeg"
	return r
}

// NewPriceRequest builds an authenticated PUT of one price record to
// /items/{sku}/stores/{storeId}.
func (c *Client) NewPriceRequest(sku, storeID int, p PricePayload) fanout.Request {
	r := c.NewRequest(http.MethodPut, fmt.Sprintf("/items/%d/stores/%d", sku, storeID), p)
	return r
}

func (c *Client) get(path string, params url.Values, v interface{}, task string) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Authorization", c.token)
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pisspricer: %s: %w", task, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return apiError(task, res.StatusCode, u)
	}
	return json.NewDecoder(res.Body).Decode(v)
}

func (c *Client) post(path string, payload, v interface{}, task string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u := c.baseURL + path
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pisspricer: %s: %w", task, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, res.Body)
		return apiError(task, res.StatusCode, u)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(v)
}

// Stores lists the remote stores for one retailer brand.
func (c *Client) Stores(brandID int) ([]stores.Store, error) {
	var out []stores.Store
	params := url.Values{"brandId": {fmt.Sprint(brandID)}}
	if err := c.get("/stores", params, &out, "getting stores"); err != nil {
		return nil, err
	}
	return out, nil
}

// Regions lists all remote regions.
func (c *Client) Regions() ([]Region, error) {
	var out []Region
	if err := c.get("/regions", nil, &out, "getting regions"); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRegion posts a new region and returns its id.
func (c *Client) CreateRegion(name string, lat, lng *float64) (int, error) {
	payload := map[string]interface{}{"name": name}
	if lat != nil && lng != nil {
		payload["lattitude"] = *lat
		payload["longitude"] = *lng
	}
	var out struct {
		RegionID int `json:"regionId"`
	}
	if err := c.post("/regions", payload, &out, "creating region "+name); err != nil {
		return 0, err
	}
	return out.RegionID, nil
}

// Categories lists all remote categories with their subcategories.
func (c *Client) Categories() ([]Category, error) {
	var out []Category
	if err := c.get("/categories", nil, &out, "getting categories"); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCategory posts a new category and returns its id.
func (c *Client) CreateCategory(name string) (int, error) {
	var out struct {
		CategoryID int `json:"categoryId"`
	}
	if err := c.post("/categories", map[string]string{"category": name}, &out, "creating category "+name); err != nil {
		return 0, err
	}
	return out.CategoryID, nil
}

// CreateSubcategory posts a new subcategory under a category and returns
// its id.
func (c *Client) CreateSubcategory(categoryID int, name string) (int, error) {
	var out struct {
		SubcategoryID int `json:"subcategoryId"`
	}
	path := fmt.Sprintf("/categories/%d/subcategories", categoryID)
	if err := c.post(path, map[string]string{"subcategory": name}, &out, "creating subcategory "+name); err != nil {
		return 0, err
	}
	return out.SubcategoryID, nil
}

// Barcodes returns the remote barcode index: barcode to skus. When a
// barcode maps to several skus the first is authoritative.
func (c *Client) Barcodes() (map[string][]int, error) {
	var out map[string][]int
	if err := c.get("/barcodes", nil, &out, "getting barcodes"); err != nil {
		return nil, err
	}
	return out, nil
}

// InternalSkus returns the remote internal-sku index for one brand.
func (c *Client) InternalSkus(brandID int) (map[string][]int, error) {
	var out map[string][]int
	params := url.Values{"brandId": {fmt.Sprint(brandID)}}
	if err := c.get("/internalids", params, &out, "getting internal ids"); err != nil {
		return nil, err
	}
	return out, nil
}

// AllItems returns the full remote item snapshot, used to gate image
// uploads on hasImage.
func (c *Client) AllItems() ([]ItemRecord, error) {
	var out []ItemRecord
	if err := c.get("/allitems", nil, &out, "getting item snapshot"); err != nil {
		return nil, err
	}
	return out, nil
}

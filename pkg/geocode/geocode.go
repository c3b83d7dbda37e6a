// Package geocode resolves incomplete store addresses to coordinates,
// a formatted address, a postcode and a region name.
package geocode

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Error is an address lookup failure: transport, HTTP status, or a non-OK
// status in the response body.
type Error struct {
	Address string
	Status  string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("geocoding %q failed: status=%q code=%d", e.Address, e.Status, e.Code)
}

// Result is a resolved address.
type Result struct {
	Lat      float64
	Lng      float64
	Address  string
	Postcode string
	Region   string
}

// Client calls a Google-style geocoding endpoint.
type Client struct {
	BaseURL string
	Key     string
	HTTP    *http.Client
}

// New returns a Client for the default endpoint.
func New(key string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{BaseURL: defaultBaseURL, Key: key, HTTP: hc}
}

type response struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			Types     []string `json:"types"`
			ShortName string   `json:"short_name"`
			LongName  string   `json:"long_name"`
		} `json:"address_components"`
	} `json:"results"`
}

// Geocode resolves one address. The postcode comes from the postal_code
// component's short name, the region from administrative_area_level_1's
// long name.
func (c *Client) Geocode(address string) (Result, error) {
	params := url.Values{"address": {address}, "key": {c.Key}}
	res, err := c.HTTP.Get(c.BaseURL + "?" + params.Encode())
	if err != nil {
		return Result{}, fmt.Errorf("geocoding %q: %w", address, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Result{}, &Error{Address: address, Code: res.StatusCode}
	}

	var body response
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("geocoding %q: decoding response: %w", address, err)
	}
	if body.Status != "OK" || len(body.Results) == 0 {
		return Result{}, &Error{Address: address, Status: body.Status, Code: res.StatusCode}
	}

	first := body.Results[0]
	out := Result{
		Lat:     first.Geometry.Location.Lat,
		Lng:     first.Geometry.Location.Lng,
		Address: first.FormattedAddress,
	}
	for _, comp := range first.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "postal_code":
				out.Postcode = comp.ShortName
			case "administrative_area_level_1":
				out.Region = comp.LongName
			}
		}
	}
	return out, nil
}

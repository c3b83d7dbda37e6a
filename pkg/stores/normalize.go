package stores

import (
	"regexp"
	"strconv"
	"strings"
)

// The closed category set every retailer taxonomy is mapped onto.
const (
	CategoryBeer     = "beer"
	CategoryCider    = "cider"
	CategoryWine     = "wine"
	CategorySpirits  = "spirits"
	CategoryLiqueurs = "liqueurs"
	CategoryRTD      = "rtd"
)

// minBarcodeDigits is the floor below which a leading digit run in an image
// filename is treated as noise rather than a partial barcode.
const minBarcodeDigits = 11

var volumeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ml|lt|l)\b`)

// ParseVolume infers an item's volume in millilitres from its name, e.g.
// "Jim Beam 700ml" or "Wine 1.5L". The last unit match in the name wins.
// Returns ok=false when no unit pattern matches; volume is never defaulted
// to zero.
func ParseVolume(name string) (float64, bool) {
	matches := volumeRe.FindAllStringSubmatch(strings.ToLower(name), -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "ml" {
		return v, true
	}
	return v * 1000, true
}

// BarcodeFromURL extracts a barcode from the final path segment of an image
// URL. Only a leading run of at least 11 digits counts; anything shorter is
// absent, not a partial barcode.
func BarcodeFromURL(rawURL string) (string, bool) {
	seg := rawURL
	if i := strings.LastIndexByte(seg, '/'); i >= 0 {
		seg = seg[i+1:]
	}
	n := 0
	for n < len(seg) && seg[n] >= '0' && seg[n] <= '9' {
		n++
	}
	if n < minBarcodeDigits {
		return "", false
	}
	return seg[:n], true
}

// CategoryFromSegment maps a URL path segment or section name onto the
// closed category set. Unknown segments map to nothing.
func CategoryFromSegment(seg string) (string, bool) {
	switch strings.ToLower(strings.Trim(seg, "/")) {
	case "beer", "beers", "craft-beer":
		return CategoryBeer, true
	case "cider", "ciders":
		return CategoryCider, true
	case "wine", "wines", "red-wine", "white-wine":
		return CategoryWine, true
	case "spirits", "whisky", "vodka", "gin", "rum":
		return CategorySpirits, true
	case "liqueurs", "liqueur":
		return CategoryLiqueurs, true
	case "rtd", "rtds", "premixes", "premix":
		return CategoryRTD, true
	}
	return "", false
}

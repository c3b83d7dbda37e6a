package stores

import "fmt"

// RetailerError is returned when a retailer endpoint rejects or misbehaves
// during a shared fetch (locator page, catalogue page, session handshake).
type RetailerError struct {
	Retailer string
	Task     string
	Status   int
	URL      string
}

func (e *RetailerError) Error() string {
	return fmt.Sprintf("%s API error while %s: status %d (%s)", e.Retailer, e.Task, e.Status, e.URL)
}

// ExtractionError is a per-item failure: the raw retailer data for one item
// could not be turned into a normalized Item. The item is skipped, the run
// continues.
type ExtractionError struct {
	Retailer string
	Item     string
	Reason   string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: cannot extract %q: %s", e.Retailer, e.Item, e.Reason)
}

package pisspricer

import "fmt"

// APIError tags a rejected remote call with the API that rejected it and
// the task being performed, so per-item handlers can log exactly which
// resource failed.
type APIError struct {
	API    string
	Task   string
	Status int
	URL    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error while %s: status %d (%s)", e.API, e.Task, e.Status, e.URL)
}

func apiError(task string, status int, url string) *APIError {
	return &APIError{API: "pisspricer", Task: task, Status: status, URL: url}
}

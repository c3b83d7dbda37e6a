// Package fanout executes one wave of independent HTTP requests at a time:
// every request in the wave is dispatched at once, the wave is awaited as a
// whole, and per-request failures are captured in the results rather than
// aborting the batch.
package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a single request within a wave. A timed-out call
// contributes a timeout result instead of blocking the wave.
const DefaultTimeout = 30 * time.Second

// Request describes one HTTP call in a wave. ID correlates the response
// back to caller context; NewRequest assigns one.
type Request struct {
	ID          string
	Method      string
	URL         string
	Header      http.Header
	Cookies     []*http.Cookie
	Params      url.Values
	JSON        interface{} // marshalled as the request body when set
	Body        []byte      // raw body, used when JSON is nil
	ContentType string
}

// NewRequest builds a Request with a fresh correlation id.
func NewRequest(method, rawURL string) Request {
	return Request{
		ID:     uuid.NewString(),
		Method: method,
		URL:    rawURL,
		Header: http.Header{},
	}
}

// Result is the outcome of one request. Exactly one of Err or a populated
// response is meaningful; a non-2xx status is not an Err.
type Result struct {
	ID         string
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

// OK reports a transport-level success with a 2xx status.
func (r Result) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// TimedOut reports whether the request failed by exceeding its per-call
// timeout. Timeouts are a distinguished result category, not a retry
// trigger.
func (r Result) TimedOut() bool {
	if r.Err == nil {
		return false
	}
	var ne net.Error
	if errors.As(r.Err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(r.Err, context.DeadlineExceeded)
}

// JSON decodes the response body.
func (r Result) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Progress is called once per completed request, in completion order.
type Progress func(done, total int, label string)

// Executor runs waves of requests against a shared transport.
type Executor struct {
	client  *http.Client
	timeout time.Duration
}

// New returns an Executor. A nil client uses http.DefaultClient; a zero
// timeout uses DefaultTimeout.
func New(client *http.Client, timeout time.Duration) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{client: client, timeout: timeout}
}

// Do dispatches every request concurrently and returns results in input
// order once the whole wave has finished. progress (optional) is invoked
// under a lock, so callbacks never run concurrently with each other.
func (e *Executor) Do(reqs []Request, label string, progress Progress) []Result {
	results := make([]Result, len(reqs))
	if progress != nil {
		progress(0, len(reqs), label)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.do(reqs[i])
			mu.Lock()
			done++
			if progress != nil {
				progress(done, len(reqs), label)
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return results
}

func (e *Executor) do(r Request) Result {
	res := Result{ID: r.ID}

	rawURL := r.URL
	if len(r.Params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + r.Params.Encode()
	}

	var body io.Reader
	contentType := r.ContentType
	if r.JSON != nil {
		b, err := json.Marshal(r.JSON)
		if err != nil {
			res.Err = err
			return res
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	} else if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, rawURL, body)
	if err != nil {
		res.Err = err
		return res
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range r.Cookies {
		req.AddCookie(c)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Header = resp.Header
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Err = err
		return res
	}
	res.Body = b
	return res
}

package offlineshell

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// offlineResponse is served for a failed navigation with nothing stored.
// Its status is 200 so that browsers render it like the page it replaces.
func (w *Worker) offlineResponse(r *http.Request) *http.Response {
	return htmlResponse(r, http.StatusOK, w.settings.OfflineHTML)
}

// errorResponse is served for a static request that neither the cache
// nor the network could answer.
func (w *Worker) errorResponse(r *http.Request) *http.Response {
	return htmlResponse(r, http.StatusInternalServerError, w.settings.ErrorHTML)
}

func htmlResponse(r *http.Request, status int, body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("Cache-Control", "no-store")
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}

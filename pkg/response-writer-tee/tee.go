package tee

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ResponseSaver is an http.ResponseWriter that saves the response to a buffer,
// so that a handler can answer a client-side fetch.
type ResponseSaver struct {
	body         *bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool
	CreatedAt    time.Time
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	// remember that we wrote the headers
	t.wroteHeaders = true
	// set the status code so we can return it later
	t.status = statusCode
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	// write headers if not already written
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	// write to buffer and return written bytes
	return t.body.Write(b)
}

// Body returns the recorded response body.
func (t *ResponseSaver) Body() []byte {
	return t.body.Bytes()
}

// StatusCode returns the status code of the response.
// A handler that wrote nothing produced an implicit 200.
func (t *ResponseSaver) StatusCode() int {
	if !t.wroteHeaders {
		return http.StatusOK
	}
	return t.status
}

// HTTPResponse returns the recorded response as a client-side *http.Response
// answering req. The body is a fresh reader over the recorded bytes.
func (t *ResponseSaver) HTTPResponse(req *http.Request) *http.Response {
	status := t.StatusCode()
	body := t.Body()
	header := t.header.Clone()
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// NewResponseSaver returns a new ResponseSaver.
func NewResponseSaver() *ResponseSaver {
	return &ResponseSaver{
		CreatedAt: time.Now(),
		body:      &bytes.Buffer{},
		header:    http.Header{},
	}
}

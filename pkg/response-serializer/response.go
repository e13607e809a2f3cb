package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Offline-Shell-Stored-At"

// TimedResponse is a response snapshot together with the time it was stored.
type TimedResponse struct {
	Response *http.Response
	// The value of the clock at the time the snapshot was written.
	StoredAt time.Time
}

// BytesToStoredResponse reads a snapshot written by StoredResponseToBytes.
// The returned response body is fully buffered.
func BytesToStoredResponse(b []byte) (TimedResponse, error) {
	sRes := TimedResponse{}
	res, err := bytesToResponse(b)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("stored-at header: %w", err)
	}
	sRes.StoredAt = time.Unix(0, storedAt)
	// delete extra header
	sRes.Response.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// StoredResponseToBytes returns the HTTP/1.1 wire representation of the snapshot.
// The response body stays readable after the call.
func StoredResponseToBytes(sRes TimedResponse) ([]byte, error) {
	res := sRes.Response
	if res.Header == nil {
		res.Header = http.Header{}
	}
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.UnixNano(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header just in case
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// bytesToResponse converts a byte slice to a http.Response.
func bytesToResponse(b []byte) (*http.Response, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return nil, err
	}
	// buffer the body so the response outlives the byte slice reader
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return res, nil
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	// return buffer bytes
	return bts, nil
}

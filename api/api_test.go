package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transithub.dev/transithub/storage"
)

func testAPI() *API {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(storage.New(nil, storage.NewCache(nil, logger), logger), logger)
}

func TestCSVParam(t *testing.T) {
	assert.Nil(t, csvParam(""))
	assert.Equal(t, []string{"1"}, csvParam("1"))
	assert.Equal(t, []string{"1", "A", "GS"}, csvParam("1,A,GS"))
	assert.Equal(t, []string{"1", "A"}, csvParam(" 1 , A , "))
}

func TestAtParam(t *testing.T) {
	a := testAPI()

	req := httptest.NewRequest("GET", "/trips/mta_subway", nil)
	at, anchored := a.at(req)
	assert.False(t, anchored)
	assert.WithinDuration(t, time.Now(), at, time.Second)

	req = httptest.NewRequest("GET", "/trips/mta_subway?at=1709290000", nil)
	at, anchored = a.at(req)
	assert.True(t, anchored)
	assert.Equal(t, time.Unix(1709290000, 0).UTC(), at)

	// Malformed values anchor to now instead of failing the request.
	req = httptest.NewRequest("GET", "/trips/mta_subway?at=yesterday", nil)
	at, anchored = a.at(req)
	assert.True(t, anchored)
	assert.WithinDuration(t, time.Now(), at, time.Second)
}

func TestUnknownSourceIs404(t *testing.T) {
	handler := testAPI().Handler()

	for _, path := range []string{
		"/trips/bart",
		"/stop_times/bart",
		"/alerts/bart",
		"/positions/bart",
	} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := testAPI().Handler()

	req := httptest.NewRequest("POST", "/routes", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

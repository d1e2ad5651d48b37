package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	gtfsrt "github.com/jamespfennell/gtfs/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func TestFeedRoundTrip(t *testing.T) {
	feed := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1700000000),
		},
		Entity: []*gtfsrt.FeedEntity{
			{Id: proto.String("e1")},
		},
	}

	buf, err := EncodeFeed(feed)
	require.NoError(t, err)

	decoded, err := DecodeFeed(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000), decoded.GetHeader().GetTimestamp())
	require.Len(t, decoded.GetEntity(), 1)
	assert.Equal(t, "e1", decoded.GetEntity()[0].GetId())
}

func TestDecodeFeedRejectsGarbage(t *testing.T) {
	_, err := DecodeFeed([]byte("<html>not a protobuf</html>"))
	assert.Error(t, err)
}

func TestGetMergesHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewClient()
	c.Headers = map[string]string{"X-Api-Key": "default", "X-Shared": "yes"}

	body, err := c.Get(context.Background(), server.URL, map[string]string{"X-Api-Key": "override"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, "override", got.Get("X-Api-Key"))
	assert.Equal(t, "yes", got.Get("X-Shared"))
}

func TestGetRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewClient().Get(context.Background(), server.URL, nil)
	assert.Error(t, err)
}

func TestGetTruncatesAtMaxSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1024))
	}))
	defer server.Close()

	c := NewClient()
	c.MaxSize = 16

	body, err := c.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Len(t, body, 16)
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"list":[{"id":"MTABC_Q45"}]}}`))
	}))
	defer server.Close()

	var resp struct {
		Data struct {
			List []struct {
				ID string `json:"id"`
			} `json:"list"`
		} `json:"data"`
	}
	require.NoError(t, NewClient().GetJSON(context.Background(), server.URL, nil, &resp))
	require.Len(t, resp.Data.List, 1)
	assert.Equal(t, "MTABC_Q45", resp.Data.List[0].ID)
}

func TestGetFeedDumpsDebugArtifact(t *testing.T) {
	feed := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
	}
	buf, err := EncodeFeed(feed)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf)
	}))
	defer server.Close()

	c := NewClient()
	c.DebugDir = t.TempDir()

	_, err = c.GetFeed(context.Background(), server.URL, nil, "test-feed")
	require.NoError(t, err)
	assert.FileExists(t, c.DebugDir+"/test-feed.txt")
}

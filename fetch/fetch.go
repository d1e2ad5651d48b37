// Package fetch retrieves upstream feeds and decodes GTFS-Realtime
// protobuf payloads.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultMaxSize = 8 << 20 // 8 MB
)

// Client fetches feed URLs. When DebugDir is set, every decoded
// FeedMessage is also written there as prototext for inspection.
type Client struct {
	HTTP     *http.Client
	Headers  map[string]string
	MaxSize  int
	DebugDir string
	Logger   *slog.Logger
}

func NewClient() *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		MaxSize: DefaultMaxSize,
		Logger:  slog.Default(),
	}
}

// Get downloads a URL. Headers passed here are merged over the
// client's defaults.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if c.MaxSize > 0 {
		reader = io.LimitReader(resp.Body, int64(c.MaxSize))
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return body, nil
}

// GetFeed downloads and decodes a GTFS-Realtime feed. name is used
// for the debug dump file, when dumping is enabled.
func (c *Client) GetFeed(ctx context.Context, url string, headers map[string]string, name string) (*gtfsrt.FeedMessage, error) {
	body, err := c.Get(ctx, url, headers)
	if err != nil {
		return nil, err
	}

	feed, err := DecodeFeed(body)
	if err != nil {
		return nil, err
	}

	if c.DebugDir != "" {
		c.dump(name, feed)
	}

	return feed, nil
}

// GetJSON downloads a URL and unmarshals the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, v any) error {
	body, err := c.Get(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}
	return nil
}

// DecodeFeed unmarshals a GTFS-Realtime FeedMessage.
func DecodeFeed(buf []byte) (*gtfsrt.FeedMessage, error) {
	feed := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(buf, feed); err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}
	return feed, nil
}

// EncodeFeed marshals a FeedMessage back to wire format.
func EncodeFeed(feed *gtfsrt.FeedMessage) ([]byte, error) {
	buf, err := proto.Marshal(feed)
	if err != nil {
		return nil, fmt.Errorf("marshaling protobuf: %w", err)
	}
	return buf, nil
}

// Dump failures only cost us the debug artifact, never the batch.
func (c *Client) dump(name string, feed *gtfsrt.FeedMessage) {
	if err := os.MkdirAll(c.DebugDir, 0o755); err != nil {
		c.Logger.Warn("creating debug dir", "dir", c.DebugDir, "error", err)
		return
	}
	text, err := prototext.MarshalOptions{Multiline: true}.Marshal(feed)
	if err != nil {
		c.Logger.Warn("formatting feed dump", "name", name, "error", err)
		return
	}
	path := filepath.Join(c.DebugDir, name+".txt")
	if err := os.WriteFile(path, text, 0o644); err != nil {
		c.Logger.Warn("writing feed dump", "path", path, "error", err)
	}
}

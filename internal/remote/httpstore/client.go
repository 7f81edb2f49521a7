// Package httpstore implements remote.DocStore against a REST document
// service with bulk-write endpoints and a websocket change feed.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/remote"
)

// TokenFunc supplies the bearer token attached to every request.
type TokenFunc func(ctx context.Context) (string, error)

type Client struct {
	baseURL string
	http    *http.Client
	token   TokenFunc
	log     logging.Logger

	// reconnectDelay paces change-feed redials after a dropped socket.
	reconnectDelay time.Duration
}

func New(baseURL string, token TokenFunc, log logging.Logger) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		token:          token,
		log:            log,
		reconnectDelay: 3 * time.Second,
	}
}

// SetReconnectDelay overrides the pause between change-feed redials.
func (c *Client) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		c.reconnectDelay = d
	}
}

type wireWrite struct {
	Op     string         `json:"op"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (c *Client) Create(ctx context.Context, collection, id string, fields map[string]any) error {
	return c.commit(ctx, collection, []wireWrite{{Op: "create", ID: id, Fields: fields}})
}

func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return c.commit(ctx, collection, []wireWrite{{Op: "update", ID: id, Fields: fields}})
}

func (c *Client) NewBatch(collection string) remote.Batch {
	return &batch{client: c, collection: collection}
}

type batch struct {
	client     *Client
	collection string
	writes     []wireWrite
}

func (b *batch) Create(id string, fields map[string]any) {
	b.writes = append(b.writes, wireWrite{Op: "create", ID: id, Fields: fields})
}

func (b *batch) Update(id string, fields map[string]any) {
	b.writes = append(b.writes, wireWrite{Op: "update", ID: id, Fields: fields})
}

func (b *batch) Delete(id string) {
	b.writes = append(b.writes, wireWrite{Op: "delete", ID: id})
}

func (b *batch) Len() int { return len(b.writes) }

func (b *batch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}
	if len(b.writes) > remote.MaxBatchSize {
		return fmt.Errorf("%d writes: %w", len(b.writes), common.ErrBatchTooLarge)
	}
	return b.client.commit(ctx, b.collection, b.writes)
}

func (c *Client) commit(ctx context.Context, collection string, writes []wireWrite) error {
	body, err := json.Marshal(map[string]any{"writes": writes})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	url := fmt.Sprintf("%s/v1/%s:batchWrite", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("batch write failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized:
		return common.ErrUnauthorized
	case http.StatusNotFound:
		return common.ErrNotFound
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("batch write: unexpected status %d: %s", resp.StatusCode, msg)
	}
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	b, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", b)
	return nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve access token: %w", err)
	}
	return "Bearer " + tok, nil
}

package httpstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/clipsync/clipsync/internal/remote"
)

type wireChange struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Pending bool           `json:"pending"`
	Fields  map[string]any `json:"fields"`
}

type wireBatch struct {
	Stream  string       `json:"stream"`
	Initial bool         `json:"initial"`
	Changes []wireChange `json:"changes"`
}

// Subscribe opens the watch socket for a collection and redials until the
// returned stop function is called. Every (re)connect starts with a fresh
// snapshot replay, so consumers see Initial batches again after a drop.
func (c *Client) Subscribe(ctx context.Context, collection string) (<-chan remote.ChangeBatch, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan remote.ChangeBatch)

	var once sync.Once
	stop := func() {
		once.Do(cancel)
	}

	go func() {
		defer close(out)
		for {
			if err := c.watch(ctx, collection, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn(ctx, "change feed dropped, reconnecting",
					"collection", collection, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
		}
	}()

	return out, stop, nil
}

func (c *Client) watch(ctx context.Context, collection string, out chan<- remote.ChangeBatch) error {
	url := c.watchURL(collection)

	b, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	hdr := http.Header{}
	hdr.Set("Authorization", b)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return fmt.Errorf("failed to open change feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Snapshot batches can carry the whole collection.
	conn.SetReadLimit(16 << 20)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var wb wireBatch
		if err := json.Unmarshal(data, &wb); err != nil {
			return fmt.Errorf("malformed change feed frame: %w", err)
		}

		cb := remote.ChangeBatch{
			Collection: collection,
			Stream:     streamOf(wb.Stream),
			Initial:    wb.Initial,
			Changes:    make([]remote.Change, 0, len(wb.Changes)),
		}
		for _, wc := range wb.Changes {
			cb.Changes = append(cb.Changes, remote.Change{
				ID:                wc.ID,
				Kind:              changeKind(wc.Kind),
				PendingLocalWrite: wc.Pending,
				Fields:            wc.Fields,
			})
		}

		select {
		case out <- cb:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) watchURL(collection string) string {
	url := fmt.Sprintf("%s/v1/%s:watch", c.baseURL, collection)
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	return "ws://" + strings.TrimPrefix(url, "http://")
}

func streamOf(s string) remote.Stream {
	if s == "deleted" {
		return remote.StreamDeleted
	}
	return remote.StreamActive
}

func changeKind(s string) remote.ChangeKind {
	switch s {
	case "modified":
		return remote.ChangeModified
	case "removed":
		return remote.ChangeRemoved
	default:
		return remote.ChangeAdded
	}
}

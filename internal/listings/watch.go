package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vindennt/gus-marketplace/internal/models"
)

// Watch connects to the change feed and calls fn for every event until ctx
// is canceled or the server closes the connection. A clean shutdown returns nil
func (c *Client) Watch(ctx context.Context, fn func(models.ListingEvent)) error {
	conn, _, err := websocket.Dial(ctx, wsURL(c.baseURL)+"/ws/listings", &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("dial change feed: %w", err)
	}
	defer conn.CloseNow()

	for {
		var ev models.ListingEvent
		err := wsjson.Read(ctx, conn, &ev)
		switch {
		case err == nil:
			fn(ev)
		case ctx.Err() != nil:
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
			websocket.CloseStatus(err) == websocket.StatusGoingAway:
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("read change feed: %w", err)
		}
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

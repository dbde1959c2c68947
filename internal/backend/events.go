package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"eventdesk/internal/domain"
)

func (c *Client) ListEvents(ctx context.Context) ([]domain.Event, error) {
	var events []domain.Event
	err := c.list(ctx, "list_events", "/events", func(raw json.RawMessage) error {
		var err error
		events, err = decodeList[domain.Event](raw)
		return err
	})
	return events, err
}

func (c *Client) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	var ev domain.Event
	err := c.do(ctx, request{
		operation:  "get_event",
		method:     http.MethodGet,
		path:       fmt.Sprintf("/events/%d", id),
		idempotent: true,
	}, &ev)
	return ev, err
}

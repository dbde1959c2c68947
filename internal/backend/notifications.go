package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"eventdesk/internal/domain"
)

func (c *Client) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	var notifications []domain.Notification
	err := c.list(ctx, "list_notifications", "/notifications", func(raw json.RawMessage) error {
		var err error
		notifications, err = decodeList[domain.Notification](raw)
		return err
	})
	return notifications, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, request{
		operation: "mark_notification_read",
		method:    http.MethodPost,
		path:      fmt.Sprintf("/notifications/%d/read", id),
	}, nil)
}

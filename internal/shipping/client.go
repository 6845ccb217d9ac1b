package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Tracking struct {
	ServiceID string
	Status    string
}

// Client memanggil delivery-service untuk bikin tracking record.
// Dipanggil sekali setelah stock committed; kegagalan di sini non-kritis —
// order tetap jalan, tracking menyusul.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

const createTrackingMutation = `mutation CreateDeliveryTracking($order_id: ID!, $estimated_delivery: String) {
  createDeliveryTracking(order_id: $order_id, estimated_delivery: $estimated_delivery) { service_id status }
}`

// CreateTracking: delivery-service dedupe berdasarkan order_id, jadi aman
// di-retry oleh recovery sweep.
func (c *Client) CreateTracking(ctx context.Context, orderID string, estimated time.Time) (Tracking, error) {
	body, err := json.Marshal(map[string]any{
		"query": createTrackingMutation,
		"variables": map[string]any{
			"order_id":           orderID,
			"estimated_delivery": estimated.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return Tracking{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return Tracking{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Tracking{}, fmt.Errorf("delivery call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Tracking{}, fmt.Errorf("delivery call: http %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			CreateDeliveryTracking *struct {
				ServiceID string `json:"service_id"`
				Status    string `json:"status"`
			} `json:"createDeliveryTracking"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Tracking{}, fmt.Errorf("delivery decode: %w", err)
	}
	if len(out.Errors) > 0 {
		return Tracking{}, fmt.Errorf("delivery graphql: %s", out.Errors[0].Message)
	}
	if out.Data.CreateDeliveryTracking == nil {
		return Tracking{}, fmt.Errorf("delivery graphql: empty response")
	}

	t := out.Data.CreateDeliveryTracking
	return Tracking{ServiceID: t.ServiceID, Status: t.Status}, nil
}

package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// ErrNotFound: product tidak ada di catalog — terminal buat saga, jangan retry.
var ErrNotFound = errors.New("product not found")

type Product struct {
	ID         string
	Name       string
	PriceCents int
	Available  bool
}

// Client membaca snapshot product dari product-service (GraphQL over HTTP).
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

const getProductQuery = `query GetProduct($id: ID!) { product(id: $id) { id name price stock } }`

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

func (c *Client) GetProduct(ctx context.Context, productID string) (Product, error) {
	body, err := json.Marshal(gqlRequest{
		Query:     getProductQuery,
		Variables: map[string]any{"id": productID},
	})
	if err != nil {
		return Product{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return Product{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Product{}, fmt.Errorf("catalog call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Product{}, fmt.Errorf("catalog call: http %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			Product *struct {
				ID    string  `json:"id"`
				Name  string  `json:"name"`
				Price float64 `json:"price"`
				Stock int     `json:"stock"`
			} `json:"product"`
		} `json:"data"`
		Errors []gqlError `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Product{}, fmt.Errorf("catalog decode: %w", err)
	}
	if len(out.Errors) > 0 {
		return Product{}, fmt.Errorf("catalog graphql: %s", out.Errors[0].Message)
	}
	if out.Data.Product == nil {
		return Product{}, ErrNotFound
	}

	p := out.Data.Product
	return Product{
		ID:         p.ID,
		Name:       p.Name,
		PriceCents: int(math.Round(p.Price * 100)),
		Available:  p.Stock > 0,
	}, nil
}

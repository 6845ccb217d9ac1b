package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func gqlServer(t *testing.T, handler func(vars map[string]any) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graphql" {
			t.Errorf("path = %s, want /graphql", r.URL.Path)
		}
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handler(req.Variables)))
	}))
}

func TestGetProduct(t *testing.T) {
	srv := gqlServer(t, func(vars map[string]any) string {
		if vars["id"] != "p1" {
			t.Errorf("variables id = %v", vars["id"])
		}
		return `{"data":{"product":{"id":"p1","name":"Kopi Gayo 250g","price":19.99,"stock":7}}}`
	})
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	p, err := c.GetProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.PriceCents != 1999 {
		t.Fatalf("price = %d cents, want 1999", p.PriceCents)
	}
	if !p.Available {
		t.Fatal("stock 7 harus available")
	}
	if p.Name != "Kopi Gayo 250g" {
		t.Fatalf("name = %q", p.Name)
	}
}

func TestGetProductOutOfStock(t *testing.T) {
	srv := gqlServer(t, func(map[string]any) string {
		return `{"data":{"product":{"id":"p1","name":"Kopi","price":10,"stock":0}}}`
	})
	defer srv.Close()

	p, err := c(srv).GetProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Available {
		t.Fatal("stock 0 harus unavailable")
	}
}

func TestGetProductNotFound(t *testing.T) {
	srv := gqlServer(t, func(map[string]any) string {
		return `{"data":{"product":null}}`
	})
	defer srv.Close()

	if _, err := c(srv).GetProduct(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetProductGraphQLError(t *testing.T) {
	srv := gqlServer(t, func(map[string]any) string {
		return `{"errors":[{"message":"internal"}]}`
	})
	defer srv.Close()

	_, err := c(srv).GetProduct(context.Background(), "p1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want generic error", err)
	}
}

func TestGetProductHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := c(srv).GetProduct(context.Background(), "p1"); err == nil {
		t.Fatal("expected error on http 502")
	}
}

func c(srv *httptest.Server) *Client { return NewClient(srv.URL, time.Second) }

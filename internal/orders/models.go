package orders

import "time"

const (
	StatusPending   = "PENDING"
	StatusCancelled = "CANCELLED"
)

type Order struct {
	ID              string    `json:"id"`
	SagaID          string    `json:"saga_id"`
	BuyerID         string    `json:"buyer_id"`
	TotalCents      int       `json:"total_cents"`
	Status          string    `json:"status"`
	ShippingAddress string    `json:"shipping_address"`
	PaymentMethod   string    `json:"payment_method"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Item struct {
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}

package saga

import "time"

type CartLine struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"` // diisi ulang dari catalog tiap run (harga jangan basi)
}

// TokenRef mengikat satu cart line ke reservation token miliknya.
type TokenRef struct {
	ProductID string `json:"product_id"`
	TokenID   string `json:"token_id"`
}

// OrderSaga: unit orkestrasi satu checkout. Hanya Coordinator yang menulis
// state; disimpan terus setelah selesai untuk audit + idempotency lookup.
type OrderSaga struct {
	ID              string     `json:"saga_id"`
	ExternalID      string     `json:"external_id,omitempty"`
	BuyerID         string     `json:"buyer_id"`
	Cart            []CartLine `json:"cart"`
	ShippingAddress string     `json:"shipping_address"`
	PaymentMethod   string     `json:"payment_method"`
	State           State      `json:"state"`
	Tokens          []TokenRef `json:"tokens"`
	OrderID         string     `json:"order_id,omitempty"`
	TotalCents      int        `json:"total_cents"`
	TrackingID      string     `json:"tracking_id,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	NeedsReview     bool       `json:"needs_review,omitempty"` // invariant violation, butuh cek manual
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (s *OrderSaga) tokenFor(productID string) (TokenRef, bool) {
	for _, t := range s.Tokens {
		if t.ProductID == productID {
			return t, true
		}
	}
	return TokenRef{}, false
}

func (s *OrderSaga) recordToken(ref TokenRef) {
	if _, ok := s.tokenFor(ref.ProductID); ok {
		return
	}
	s.Tokens = append(s.Tokens, ref)
}

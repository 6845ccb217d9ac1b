package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestReserveCommitHappyPath(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger(5 * time.Minute)
	if _, err := l.AddStock(ctx, "p1", "w1", 10); err != nil {
		t.Fatalf("AddStock: %v", err)
	}

	tok, err := l.Reserve(ctx, "saga-1", "p1", "w1", 3)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if tok.State != TokenHeld {
		t.Fatalf("token state = %s, want HELD", tok.State)
	}

	recs, _ := l.ListByProduct(ctx, "p1")
	if recs[0].Available() != 7 {
		t.Fatalf("available after reserve = %d, want 7", recs[0].Available())
	}
	if recs[0].Quantity != 10 {
		t.Fatalf("quantity must not change on reserve, got %d", recs[0].Quantity)
	}

	if err := l.Commit(ctx, tok.ID); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	recs, _ = l.ListByProduct(ctx, "p1")
	if recs[0].Quantity != 7 || recs[0].Reserved != 0 {
		t.Fatalf("after commit quantity=%d reserved=%d, want 7/0", recs[0].Quantity, recs[0].Reserved)
	}
}

func TestReserveInsufficient(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger(0)
	l.AddStock(ctx, "p1", "w1", 3)

	if _, err := l.Reserve(ctx, "saga-1", "p1", "w1", 5); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	// stok tidak boleh berubah setelah reserve gagal
	recs, _ := l.ListByProduct(ctx, "p1")
	if recs[0].Quantity != 3 || recs[0].Reserved != 0 {
		t.Fatalf("stock changed on failed reserve: %+v", recs[0])
	}
}

func TestReserveInvalidQuantity(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger(0)
	l.AddStock(ctx, "p1", "w1", 3)

	for _, qty := range []int{0, -1} {
		if _, err := l.Reserve(ctx, "saga-1", "p1", "w1", qty); !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("qty=%d err = %v, want ErrInvalidQuantity", qty, err)
		}
	}
	if _, err := l.AddStock(ctx, "p1", "w1", 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("AddStock qty=0 err = %v, want ErrInvalidQuantity", err)
	}
}

func TestReserveIdempotentPerSagaProduct(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger(0)
	l.AddStock(ctx, "p1", "w1", 10)

	tok1, err := l.Reserve(ctx, "saga-1", "p1", "", 4)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	// retry/resume dengan saga+product yang sama balikin token yang sama
	tok2, err := l.Reserve(ctx, "saga-1", "p1", "", 4)
	if err != nil {
		t.Fatalf("Reserve ulang: %v", err)
	}
	if tok1.ID != tok2.ID {
		t.Fatalf("expected same token, got %s vs %s", tok1.ID, tok2.ID)
	}
	recs, _ := l.ListByProduct(ctx, "p1")
	if recs[0].Reserved != 4 {
		t.Fatalf("reserved = %d, want 4 (no double hold)", recs[0].Reserved)
	}
}

func TestCommitReleaseIdempotentAndTerminal(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger(0)
	l.AddStock(ctx, "p1", "w1", 10)

	tokC, _ := l.Reserve(ctx, "saga-1", "p1", "", 2)
	tokR, _ := l.Reserve(ctx, "saga-2", "p1", "", 3)

	if err := l.Commit(ctx, tokC.ID); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Commit(ctx, tokC.ID); err != nil {
		t.Fatalf("double Commit must be no-op, got %v", err)
	}
	if err := l.Release(ctx, tokC.ID); !errors.Is(err, ErrInvalidTokenState) {
		t.Fatalf("Release of COMMITTED err = %v, want ErrInvalidTokenState", err)
	}

	if err := l.Release(ctx, tokR.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(ctx, tokR.ID); err != nil {
		t.Fatalf("double Release must be no-op, got %v", err)
	}
	if err := l.Commit(ctx, tokR.ID); !errors.Is(err, ErrInvalidTokenState) {
		t.Fatalf("Commit of RELEASED err = %v, want ErrInvalidTokenState", err)
	}

	recs, _ := l.ListByProduct(ctx, "p1")
	// commit 2 dari 10, release 3 balik
	if recs[0].Quantity != 8 || recs[0].Reserved != 0 {
		t.Fatalf("final quantity=%d reserved=%d, want 8/0", recs[0].Quantity, recs[0].Reserved)
	}
}

func TestCommitUnknownToken(t *testing.T) {
	l := NewMemLedger(0)
	if err := l.Commit(context.Background(), "nope"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
	if err := l.Release(context.Background(), "nope"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestReservePicksLargestAvailableLocation(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger(0)
	l.AddStock(ctx, "p1", "w1", 2)
	l.AddStock(ctx, "p1", "w2", 5)

	tok, err := l.Reserve(ctx, "saga-1", "p1", "", 1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if tok.LocationID != "w2" {
		t.Fatalf("picked %s, want w2 (largest available)", tok.LocationID)
	}

	// tie: sama-sama available, pilih location_id terkecil
	l2 := NewMemLedger(0)
	l2.AddStock(ctx, "p1", "w3", 4)
	l2.AddStock(ctx, "p1", "w1", 4)
	tok2, err := l2.Reserve(ctx, "saga-1", "p1", "", 1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if tok2.LocationID != "w1" {
		t.Fatalf("picked %s, want w1 (tie-break)", tok2.LocationID)
	}
}

func TestReserveExplicitLocationDoesNotFallback(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger(0)
	l.AddStock(ctx, "p1", "w1", 1)
	l.AddStock(ctx, "p1", "w2", 10)

	if _, err := l.Reserve(ctx, "saga-1", "p1", "w1", 5); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock (no fallback to w2)", err)
	}
}

func TestConcurrentReserveNoOversell(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger(0)
	l.AddStock(ctx, "p1", "w1", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Reserve(ctx, fmt.Sprintf("saga-%d", i), "p1", "", 1)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if success != 10 {
		t.Fatalf("success = %d, want exactly 10", success)
	}
	recs, _ := l.ListByProduct(ctx, "p1")
	if recs[0].Reserved != 10 || recs[0].Available() != 0 {
		t.Fatalf("reserved=%d available=%d, want 10/0", recs[0].Reserved, recs[0].Available())
	}
}

func TestExpireStaleHolds(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger(time.Minute)
	l.AddStock(ctx, "p1", "w1", 5)

	tok, _ := l.Reserve(ctx, "saga-1", "p1", "", 5)
	if _, err := l.Reserve(ctx, "saga-2", "p1", "", 1); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("pre-expiry reserve should fail, got %v", err)
	}

	n, err := l.ExpireStaleHolds(ctx, time.Now().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ExpireStaleHolds: %v", err)
	}
	if n != 1 {
		t.Fatalf("released = %d, want 1", n)
	}

	got, ok := l.Token(tok.ID)
	if !ok || got.State != TokenReleased {
		t.Fatalf("token state = %v, want RELEASED", got.State)
	}
	// kapasitas balik, commit token expired harus ditolak
	if _, err := l.Reserve(ctx, "saga-2", "p1", "", 5); err != nil {
		t.Fatalf("post-expiry reserve: %v", err)
	}
	if err := l.Commit(ctx, tok.ID); !errors.Is(err, ErrInvalidTokenState) {
		t.Fatalf("Commit of expired token err = %v, want ErrInvalidTokenState", err)
	}
}

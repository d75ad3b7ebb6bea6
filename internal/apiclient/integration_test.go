package apiclient

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/memeraffle-system/internal/handler"
	"github.com/mmeshcher/memeraffle-system/internal/meme"
	"github.com/mmeshcher/memeraffle-system/internal/middleware"
	"github.com/mmeshcher/memeraffle-system/internal/repository"
	"github.com/mmeshcher/memeraffle-system/internal/service"
)

// Поднимает полный HTTP-стек сервиса поверх хранилища в памяти
// и прогоняет через клиента цикл «покупка — баланс — отчёт».
func TestClient_AgainstRealService(t *testing.T) {
	repo, err := repository.NewMemoryRepository("")
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}

	svc := service.NewService(repo, meme.NewSVGRenderer(), service.Policy{
		CreditsPerPurchase: 10,
		BundlePriceCents:   700,
		MemeCost:           2,
	})

	sig := middleware.NewSignatureMiddleware("integration-secret")
	h := handler.NewHandler(svc, zap.NewNop(), sig, "demo-user")

	ts := httptest.NewServer(h.SetupRouter())
	defer ts.Close()

	client := NewClient(ts.URL, Options{BaseRetryDelay: 10 * time.Millisecond})
	ctx := context.Background()

	credits, err := client.Credits(ctx, "u1")
	if err != nil {
		t.Fatalf("Credits error: %v", err)
	}
	if credits != 0 {
		t.Fatalf("credits = %d, want 0 for a new user", credits)
	}

	webhookBody := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"userId":"u1","amountTotal":7}}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/webhook", bytes.NewReader(webhookBody))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.SignatureHeader, sig.Sign(webhookBody))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	credits, err = client.Credits(ctx, "u1")
	if err != nil {
		t.Fatalf("Credits error: %v", err)
	}
	if credits != 10 {
		t.Fatalf("credits = %d, want 10 after confirmed purchase", credits)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.TotalRaffleEntries != 1 {
		t.Fatalf("totalRaffleEntries = %d, want 1", stats.TotalRaffleEntries)
	}
	if stats.TotalUsers != 1 {
		t.Fatalf("totalUsers = %d, want 1", stats.TotalUsers)
	}
	if len(stats.RaffleEntries) != 1 || stats.RaffleEntries[0].PurchaseAmount != 7 {
		t.Fatalf("unexpected entries: %+v", stats.RaffleEntries)
	}
	if stats.RaffleEntries[0].Status != "active" {
		t.Fatalf("entry status = %q, want active", stats.RaffleEntries[0].Status)
	}
}

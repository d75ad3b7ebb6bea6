package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mmeshcher/memeraffle-system/internal/model"
)

func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	r, err := NewMemoryRepository("")
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}
	return r
}

func TestGetBalance_UnknownUser(t *testing.T) {
	r := newTestRepo(t)

	balance, err := r.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
}

func TestAddCredits_AccumulatesAndReturnsNewBalance(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	got, err := r.AddCredits(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("AddCredits error: %v", err)
	}
	if got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}

	got, err = r.AddCredits(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("AddCredits error: %v", err)
	}
	if got != 15 {
		t.Fatalf("balance = %d, want 15", got)
	}
}

func TestAddCredits_RejectsNonPositiveAmount(t *testing.T) {
	r := newTestRepo(t)

	_, err := r.AddCredits(context.Background(), "u1", 0)
	if !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}

	_, err = r.AddCredits(context.Background(), "u1", -3)
	if !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestDeductCredits_InsufficientLeavesBalanceUnchanged(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.AddCredits(ctx, "u1", 3); err != nil {
		t.Fatalf("AddCredits error: %v", err)
	}

	ok, err := r.DeductCredits(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("DeductCredits error: %v", err)
	}
	if ok {
		t.Fatalf("deduction of 5 from balance 3 must fail")
	}

	balance, err := r.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if balance != 3 {
		t.Fatalf("balance = %d, want 3", balance)
	}
}

func TestDeductCredits_Scenario(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.EnsureSeeded(ctx, "u1", 10); err != nil {
		t.Fatalf("EnsureSeeded error: %v", err)
	}

	for i := 0; i < 3; i++ {
		ok, err := r.DeductCredits(ctx, "u1", 2)
		if err != nil {
			t.Fatalf("DeductCredits error: %v", err)
		}
		if !ok {
			t.Fatalf("deduction %d must succeed", i+1)
		}
	}

	balance, _ := r.GetBalance(ctx, "u1")
	if balance != 4 {
		t.Fatalf("balance = %d, want 4", balance)
	}

	ok, err := r.DeductCredits(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("DeductCredits error: %v", err)
	}
	if ok {
		t.Fatalf("deduction of 5 from balance 4 must fail")
	}

	balance, _ = r.GetBalance(ctx, "u1")
	if balance != 4 {
		t.Fatalf("balance = %d, want 4 after failed deduction", balance)
	}
}

func TestBalanceNeverNegative(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	var expected int64
	ops := []struct {
		add    int64
		deduct int64
	}{
		{add: 10}, {deduct: 4}, {deduct: 20}, {add: 1}, {deduct: 7}, {deduct: 1},
	}

	for _, op := range ops {
		if op.add > 0 {
			if _, err := r.AddCredits(ctx, "u1", op.add); err != nil {
				t.Fatalf("AddCredits error: %v", err)
			}
			expected += op.add
		} else {
			ok, err := r.DeductCredits(ctx, "u1", op.deduct)
			if err != nil {
				t.Fatalf("DeductCredits error: %v", err)
			}
			if ok {
				expected -= op.deduct
			}
		}

		balance, _ := r.GetBalance(ctx, "u1")
		if balance < 0 {
			t.Fatalf("balance went negative: %d", balance)
		}
		if balance != expected {
			t.Fatalf("balance = %d, want %d", balance, expected)
		}
	}
}

func TestEnsureSeeded_Idempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.EnsureSeeded(ctx, "u1", 10); err != nil {
		t.Fatalf("EnsureSeeded error: %v", err)
	}

	if _, err := r.AddCredits(ctx, "u1", 5); err != nil {
		t.Fatalf("AddCredits error: %v", err)
	}

	if err := r.EnsureSeeded(ctx, "u1", 10); err != nil {
		t.Fatalf("EnsureSeeded error: %v", err)
	}

	balance, _ := r.GetBalance(ctx, "u1")
	if balance != 15 {
		t.Fatalf("balance = %d, want 15: repeated seeding must be a no-op", balance)
	}
}

func TestResetBalance(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.AddCredits(ctx, "u1", 42); err != nil {
		t.Fatalf("AddCredits error: %v", err)
	}

	if err := r.ResetBalance(ctx, "u1"); err != nil {
		t.Fatalf("ResetBalance error: %v", err)
	}

	balance, _ := r.GetBalance(ctx, "u1")
	if balance != 0 {
		t.Fatalf("balance = %d, want 0 after reset", balance)
	}
}

func TestEntries_InsertionOrderAndCount(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	first := model.NewRaffleEntry("u2", 700)
	second := model.NewRaffleEntry("u2", 1400)

	if err := r.CreateEntry(ctx, first); err != nil {
		t.Fatalf("CreateEntry error: %v", err)
	}
	if err := r.CreateEntry(ctx, second); err != nil {
		t.Fatalf("CreateEntry error: %v", err)
	}

	entries, err := r.EntriesByUser(ctx, "u2")
	if err != nil {
		t.Fatalf("EntriesByUser error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].ID != first.ID || entries[1].ID != second.ID {
		t.Fatalf("entries out of insertion order: %+v", entries)
	}

	total, err := r.CountEntries(ctx)
	if err != nil {
		t.Fatalf("CountEntries error: %v", err)
	}
	if total != 2 {
		t.Fatalf("CountEntries = %d, want 2", total)
	}

	all, err := r.AllEntries(ctx)
	if err != nil {
		t.Fatalf("AllEntries error: %v", err)
	}
	if int64(len(all)) != total {
		t.Fatalf("CountEntries = %d, len(AllEntries) = %d, must match", total, len(all))
	}
}

func TestEntryIDs_UniqueUnderConcurrentCreation(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := r.CreateEntry(ctx, model.NewRaffleEntry("u1", 700)); err != nil {
					t.Errorf("CreateEntry error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	all, err := r.AllEntries(ctx)
	if err != nil {
		t.Fatalf("AllEntries error: %v", err)
	}
	if len(all) != workers*perWorker {
		t.Fatalf("entries = %d, want %d", len(all), workers*perWorker)
	}

	seen := make(map[string]struct{}, len(all))
	for _, e := range all {
		if _, ok := seen[e.ID]; ok {
			t.Fatalf("duplicate entry id: %s", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
}

func TestMarkEventProcessed_DetectsDuplicates(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	first, err := r.MarkEventProcessed(ctx, "evt_1")
	if err != nil {
		t.Fatalf("MarkEventProcessed error: %v", err)
	}
	if !first {
		t.Fatalf("first delivery must be marked as new")
	}

	first, err = r.MarkEventProcessed(ctx, "evt_1")
	if err != nil {
		t.Fatalf("MarkEventProcessed error: %v", err)
	}
	if first {
		t.Fatalf("second delivery must be detected as duplicate")
	}
}

func TestStateFile_RoundTrip(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	r, err := NewMemoryRepository(stateFile)
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}

	if _, err := r.AddCredits(ctx, "u1", 12); err != nil {
		t.Fatalf("AddCredits error: %v", err)
	}
	entry := model.NewRaffleEntry("u1", 700)
	if err := r.CreateEntry(ctx, entry); err != nil {
		t.Fatalf("CreateEntry error: %v", err)
	}
	if _, err := r.MarkEventProcessed(ctx, "evt_1"); err != nil {
		t.Fatalf("MarkEventProcessed error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	restored, err := NewMemoryRepository(stateFile)
	if err != nil {
		t.Fatalf("NewMemoryRepository (restore): %v", err)
	}

	balance, _ := restored.GetBalance(ctx, "u1")
	if balance != 12 {
		t.Fatalf("restored balance = %d, want 12", balance)
	}

	entries, _ := restored.EntriesByUser(ctx, "u1")
	if len(entries) != 1 || entries[0].ID != entry.ID {
		t.Fatalf("restored entries = %+v, want the saved entry", entries)
	}
	if entries[0].Status != model.EntryStatusActive {
		t.Fatalf("restored status = %s, want active", entries[0].Status)
	}

	first, _ := restored.MarkEventProcessed(ctx, "evt_1")
	if first {
		t.Fatalf("processed event must survive the restart")
	}
}

func TestStateFile_FailedSnapshotRollsBackMutation(t *testing.T) {
	// Каталог файла состояния не существует: запись снимка обречена,
	// а загрузка при создании трактует отсутствие файла как пустое состояние.
	stateFile := filepath.Join(t.TempDir(), "missing", "state.json")
	ctx := context.Background()

	r, err := NewMemoryRepository(stateFile)
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}

	if _, err := r.AddCredits(ctx, "u1", 10); err == nil {
		t.Fatalf("expected snapshot write error")
	}
	balance, _ := r.GetBalance(ctx, "u1")
	if balance != 0 {
		t.Fatalf("balance after failed snapshot = %d, want 0", balance)
	}

	if err := r.CreateEntry(ctx, model.NewRaffleEntry("u1", 700)); err == nil {
		t.Fatalf("expected snapshot write error")
	}
	count, _ := r.CountEntries(ctx)
	if count != 0 {
		t.Fatalf("entries after failed snapshot = %d, want 0", count)
	}

	if _, err := r.MarkEventProcessed(ctx, "evt_1"); err == nil {
		t.Fatalf("expected snapshot write error")
	}
	// Отметка откатилась: повторная доставка не должна считаться дубликатом.
	if _, ok := r.processed["evt_1"]; ok {
		t.Fatalf("event mark must be rolled back after failed snapshot")
	}
}

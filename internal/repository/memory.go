// Package repository содержит реализации хранилищ балансов и участий в розыгрыше.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mmeshcher/memeraffle-system/internal/model"
)

// ErrNegativeAmount возвращается при попытке операции с неположительной суммой.
var ErrNegativeAmount = errors.New("amount must be positive")

// MemoryRepository хранит балансы и участия в памяти процесса.
// Опционально сохраняет снимок состояния в JSON-файл после каждой мутации.
// Все мутации сериализуются одним мьютексом, чтения не наблюдают
// частично применённых изменений. Если запись снимка не удалась,
// мутация откатывается: ошибка означает неизменённое состояние.
type MemoryRepository struct {
	mu        sync.RWMutex
	balances  map[string]int64
	entries   map[string][]model.RaffleEntry
	processed map[string]struct{}
	stateFile string
}

type entryRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	EntryDate   time.Time `json:"entryDate"`
	AmountCents int64     `json:"purchaseAmountCents"`
	Status      string    `json:"status"`
}

type snapshot struct {
	Balances        map[string]int64         `json:"balances"`
	Entries         map[string][]entryRecord `json:"entries"`
	ProcessedEvents []string                 `json:"processedEvents"`
}

// NewMemoryRepository создаёт хранилище в памяти. Если указан файл состояния
// и он существует, восстанавливает из него балансы и участия.
func NewMemoryRepository(stateFile string) (*MemoryRepository, error) {
	r := &MemoryRepository{
		balances:  make(map[string]int64),
		entries:   make(map[string][]model.RaffleEntry),
		processed: make(map[string]struct{}),
		stateFile: stateFile,
	}

	if stateFile == "" {
		return r, nil
	}

	data, err := os.ReadFile(stateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	for userID, credits := range snap.Balances {
		r.balances[userID] = credits
	}
	for userID, records := range snap.Entries {
		for _, rec := range records {
			r.entries[userID] = append(r.entries[userID], model.RaffleEntry{
				ID:          rec.ID,
				UserID:      rec.UserID,
				EntryDate:   rec.EntryDate,
				AmountCents: rec.AmountCents,
				Status:      model.EntryStatus(rec.Status),
			})
		}
	}
	for _, id := range snap.ProcessedEvents {
		r.processed[id] = struct{}{}
	}

	return r, nil
}

// Close сохраняет финальный снимок состояния, если настроен файл.
func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persist()
}

// persist вызывается только под захваченным мьютексом.
func (r *MemoryRepository) persist() error {
	if r.stateFile == "" {
		return nil
	}

	snap := snapshot{
		Balances: r.balances,
		Entries:  make(map[string][]entryRecord, len(r.entries)),
	}
	for userID, list := range r.entries {
		records := make([]entryRecord, 0, len(list))
		for _, e := range list {
			records = append(records, entryRecord{
				ID:          e.ID,
				UserID:      e.UserID,
				EntryDate:   e.EntryDate,
				AmountCents: e.AmountCents,
				Status:      string(e.Status),
			})
		}
		snap.Entries[userID] = records
	}
	for id := range r.processed {
		snap.ProcessedEvents = append(snap.ProcessedEvents, id)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.WriteFile(r.stateFile, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// GetBalance возвращает баланс пользователя. Для неизвестного пользователя — 0.
func (r *MemoryRepository) GetBalance(_ context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[userID], nil
}

// AddCredits увеличивает баланс пользователя и возвращает новое значение.
func (r *MemoryRepository) AddCredits(_ context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("add credits: %w", ErrNegativeAmount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.balances[userID] += amount
	if err := r.persist(); err != nil {
		r.balances[userID] -= amount
		return 0, err
	}
	return r.balances[userID], nil
}

// DeductCredits списывает кредиты, если баланса достаточно.
// При недостаточном балансе возвращает false, не изменяя состояние.
func (r *MemoryRepository) DeductCredits(_ context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("deduct credits: %w", ErrNegativeAmount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.balances[userID] < amount {
		return false, nil
	}

	r.balances[userID] -= amount
	if err := r.persist(); err != nil {
		r.balances[userID] += amount
		return false, err
	}
	return true, nil
}

// ResetBalance безусловно обнуляет баланс пользователя.
func (r *MemoryRepository) ResetBalance(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.balances[userID]
	r.balances[userID] = 0
	if err := r.persist(); err != nil {
		if had {
			r.balances[userID] = prev
		} else {
			delete(r.balances, userID)
		}
		return err
	}
	return nil
}

// EnsureSeeded устанавливает стартовый баланс, если у пользователя ещё нет записи.
// Повторные вызовы ничего не меняют.
func (r *MemoryRepository) EnsureSeeded(_ context.Context, userID string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.balances[userID]; ok {
		return nil
	}

	r.balances[userID] = amount
	if err := r.persist(); err != nil {
		delete(r.balances, userID)
		return err
	}
	return nil
}

// Balances возвращает копию всех балансов.
func (r *MemoryRepository) Balances(_ context.Context) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.balances))
	for userID, credits := range r.balances {
		out[userID] = credits
	}
	return out, nil
}

// CreateEntry добавляет запись участия в конец списка пользователя.
func (r *MemoryRepository) CreateEntry(_ context.Context, entry model.RaffleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.entries[entry.UserID], entry)
	r.entries[entry.UserID] = list
	if err := r.persist(); err != nil {
		r.entries[entry.UserID] = list[:len(list)-1]
		return err
	}
	return nil
}

// EntriesByUser возвращает участия пользователя в порядке добавления.
func (r *MemoryRepository) EntriesByUser(_ context.Context, userID string) ([]model.RaffleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.entries[userID]
	out := make([]model.RaffleEntry, len(list))
	copy(out, list)
	return out, nil
}

// AllEntries возвращает участия всех пользователей. Порядок между
// пользователями не определён, внутри одного пользователя — порядок добавления.
func (r *MemoryRepository) AllEntries(_ context.Context) ([]model.RaffleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.RaffleEntry
	for _, list := range r.entries {
		out = append(out, list...)
	}
	return out, nil
}

// CountEntries возвращает общее число участий.
func (r *MemoryRepository) CountEntries(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, list := range r.entries {
		total += int64(len(list))
	}
	return total, nil
}

// MarkEventProcessed запоминает идентификатор обработанного события.
// Возвращает false, если событие уже встречалось.
func (r *MemoryRepository) MarkEventProcessed(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.processed[eventID]; ok {
		return false, nil
	}

	r.processed[eventID] = struct{}{}
	if err := r.persist(); err != nil {
		delete(r.processed, eventID)
		return false, err
	}
	return true, nil
}

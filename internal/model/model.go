// Package model содержит доменные сущности сервиса мем-кредитов и розыгрыша.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

// EntryStatus описывает статус участия в розыгрыше.
type EntryStatus string

const (
	EntryStatusActive  EntryStatus = "active"
	EntryStatusWinner  EntryStatus = "winner"
	EntryStatusExpired EntryStatus = "expired"
)

// RaffleEntry описывает одно участие в розыгрыше, созданное по факту
// подтверждённой покупки. Неизменяемо, кроме поля Status.
type RaffleEntry struct {
	ID          string
	UserID      string
	EntryDate   time.Time
	AmountCents int64
	Status      EntryStatus
}

// NewRaffleEntry создаёт запись участия со свежим уникальным идентификатором
// и текущим временем. Статус всегда active: логика розыгрыша призов не реализована.
func NewRaffleEntry(userID string, amountCents int64) RaffleEntry {
	return RaffleEntry{
		ID:          fmt.Sprintf("raffle_%d_%s", time.Now().UnixMilli(), uuid.Must(uuid.NewV4())),
		UserID:      userID,
		EntryDate:   time.Now(),
		AmountCents: amountCents,
		Status:      EntryStatusActive,
	}
}

// PurchaseEvent описывает проверенное событие подтверждения покупки
// от платёжного провайдера.
type PurchaseEvent struct {
	ID          string
	UserID      string
	AmountCents int64
}

// PurchaseResult содержит итог обработки события покупки.
type PurchaseResult struct {
	NewBalance int64
	Entry      RaffleEntry
}

// UserStats содержит агрегированную статистику по одному пользователю.
type UserStats struct {
	UserID          string
	Credits         int64
	EntryCount      int
	TotalSpentCents int64
}

// Report содержит сводный срез двух хранилищ для административного отчёта.
// Строится только чтением, ни одно из хранилищ не изменяет.
type Report struct {
	TotalUsers   int
	TotalEntries int
	PerUser      []UserStats
	AllEntries   []RaffleEntry
}

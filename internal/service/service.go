// Package service реализует бизнес-логику сервиса мем-кредитов и розыгрыша.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mmeshcher/memeraffle-system/internal/model"
)

// ErrDuplicateEvent возвращается при повторной доставке уже обработанного события.
var (
	ErrDuplicateEvent = errors.New("event already processed")
	// ErrInsufficientCredits возвращается, когда у пользователя не хватает кредитов.
	// Для вызывающего это пользовательская ситуация, а не сбой системы.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrPartialApplication возвращается, когда кредиты начислены, но участие
	// в розыгрыше записать не удалось. Требует внимания оператора.
	ErrPartialApplication = errors.New("purchase event partially applied")
	// ErrEmptyMemeText возвращается при попытке сгенерировать мем без текста.
	ErrEmptyMemeText = errors.New("meme text is empty")
	// ErrMissingEventID возвращается для события без идентификатора:
	// без ключа идемпотентности повторную доставку не отличить от новой покупки.
	ErrMissingEventID = errors.New("event id is required")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetBalance(ctx context.Context, userID string) (int64, error)
	AddCredits(ctx context.Context, userID string, amount int64) (int64, error)
	DeductCredits(ctx context.Context, userID string, amount int64) (bool, error)
	ResetBalance(ctx context.Context, userID string) error
	EnsureSeeded(ctx context.Context, userID string, amount int64) error
	Balances(ctx context.Context) (map[string]int64, error)
	CreateEntry(ctx context.Context, entry model.RaffleEntry) error
	EntriesByUser(ctx context.Context, userID string) ([]model.RaffleEntry, error)
	AllEntries(ctx context.Context) ([]model.RaffleEntry, error)
	CountEntries(ctx context.Context) (int64, error)
	MarkEventProcessed(ctx context.Context, eventID string) (bool, error)
}

// MemeRenderer описывает генератор изображения мема по тексту.
type MemeRenderer interface {
	Render(topText, bottomText string) ([]byte, error)
	ContentType() string
}

// Policy содержит настраиваемые параметры начислений и списаний.
// Количество кредитов за покупку и стоимость пакета заданы независимо.
type Policy struct {
	CreditsPerPurchase int64
	BundlePriceCents   int64
	MemeCost           int64
}

// Service содержит бизнес-логику сервиса мем-кредитов.
type Service struct {
	repo     Repository
	renderer MemeRenderer
	policy   Policy
}

// NewService создаёт новый сервис с указанным репозиторием, генератором мемов и политикой.
func NewService(repo Repository, renderer MemeRenderer, policy Policy) *Service {
	return &Service{
		repo:     repo,
		renderer: renderer,
		policy:   policy,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// GetCredits возвращает баланс пользователя. Для неизвестного пользователя — 0.
func (s *Service) GetCredits(ctx context.Context, userID string) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// EnsureDemoSeeded один раз выдаёт демо-пользователю стартовые кредиты.
// Повторные запуски сервиса баланс не трогают.
func (s *Service) EnsureDemoSeeded(ctx context.Context, userID string, credits int64) error {
	if userID == "" || credits <= 0 {
		return nil
	}
	return s.repo.EnsureSeeded(ctx, userID, credits)
}

// ResetBalance безусловно обнуляет баланс пользователя. Административная операция.
func (s *Service) ResetBalance(ctx context.Context, userID string) error {
	return s.repo.ResetBalance(ctx, userID)
}

// RecordEntry записывает участие пользователя в розыгрыше на указанную сумму.
func (s *Service) RecordEntry(ctx context.Context, userID string, amountCents int64) (model.RaffleEntry, error) {
	if amountCents <= 0 {
		return model.RaffleEntry{}, fmt.Errorf("purchase amount must be positive, got %d", amountCents)
	}

	entry := model.NewRaffleEntry(userID, amountCents)
	if err := s.repo.CreateEntry(ctx, entry); err != nil {
		return model.RaffleEntry{}, err
	}
	return entry, nil
}

// EntriesByUser возвращает участия пользователя в порядке добавления.
func (s *Service) EntriesByUser(ctx context.Context, userID string) ([]model.RaffleEntry, error) {
	return s.repo.EntriesByUser(ctx, userID)
}

// ProcessPurchaseConfirmed применяет подтверждённое событие покупки:
// начисляет кредиты и записывает участие в розыгрыше, в этом порядке.
// Идентификатор события служит ключом идемпотентности, повторная доставка
// возвращает ErrDuplicateEvent без изменения состояния.
//
// Сумма участия берётся из события, если провайдер её передал, иначе —
// из настроенной стоимости пакета. Подлинность события проверяется
// вызывающей стороной до этого вызова.
func (s *Service) ProcessPurchaseConfirmed(ctx context.Context, event model.PurchaseEvent) (*model.PurchaseResult, error) {
	if event.ID == "" {
		return nil, ErrMissingEventID
	}
	if event.UserID == "" {
		return nil, fmt.Errorf("event %s: user id is required", event.ID)
	}

	first, err := s.repo.MarkEventProcessed(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("mark event processed: %w", err)
	}
	if !first {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, event.ID)
	}

	newBalance, err := s.repo.AddCredits(ctx, event.UserID, s.policy.CreditsPerPurchase)
	if err != nil {
		return nil, fmt.Errorf("grant credits for event %s: %w", event.ID, err)
	}

	amountCents := event.AmountCents
	if amountCents <= 0 {
		amountCents = s.policy.BundlePriceCents
	}

	entry := model.NewRaffleEntry(event.UserID, amountCents)
	if err := s.repo.CreateEntry(ctx, entry); err != nil {
		// Кредиты уже начислены, откат между хранилищами невозможен.
		return nil, fmt.Errorf("%w: event %s: credits granted, entry not recorded: %v", ErrPartialApplication, event.ID, err)
	}

	return &model.PurchaseResult{
		NewBalance: newBalance,
		Entry:      entry,
	}, nil
}

// GenerateMeme списывает стоимость генерации и возвращает изображение мема.
// При нехватке кредитов возвращает ErrInsufficientCredits, баланс не меняется.
func (s *Service) GenerateMeme(ctx context.Context, userID, topText, bottomText string) ([]byte, error) {
	topText = strings.TrimSpace(topText)
	bottomText = strings.TrimSpace(bottomText)
	if topText == "" && bottomText == "" {
		return nil, ErrEmptyMemeText
	}

	ok, err := s.repo.DeductCredits(ctx, userID, s.policy.MemeCost)
	if err != nil {
		return nil, fmt.Errorf("deduct credits: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: need %d", ErrInsufficientCredits, s.policy.MemeCost)
	}

	img, err := s.renderer.Render(topText, bottomText)
	if err != nil {
		// Генерация не удалась — возвращаем списанные кредиты.
		if _, refundErr := s.repo.AddCredits(ctx, userID, s.policy.MemeCost); refundErr != nil {
			return nil, fmt.Errorf("render meme: %w (refund failed: %v)", err, refundErr)
		}
		return nil, fmt.Errorf("render meme: %w", err)
	}

	return img, nil
}

// MemeContentType возвращает MIME-тип генерируемых изображений.
func (s *Service) MemeContentType() string {
	return s.renderer.ContentType()
}

// BuildReport строит сводный отчёт по обоим хранилищам. Только читает состояние.
// Пользователи без участий, но с балансом, в отчёт тоже попадают.
func (s *Service) BuildReport(ctx context.Context) (*model.Report, error) {
	entries, err := s.repo.AllEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	balances, err := s.repo.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}

	statsByUser := make(map[string]*model.UserStats)
	var order []string

	for _, e := range entries {
		st, ok := statsByUser[e.UserID]
		if !ok {
			st = &model.UserStats{UserID: e.UserID}
			statsByUser[e.UserID] = st
			order = append(order, e.UserID)
		}
		st.EntryCount++
		st.TotalSpentCents += e.AmountCents
	}

	var ledgerOnly []string
	for userID := range balances {
		if _, ok := statsByUser[userID]; !ok {
			statsByUser[userID] = &model.UserStats{UserID: userID}
			ledgerOnly = append(ledgerOnly, userID)
		}
	}
	sort.Strings(ledgerOnly)
	order = append(order, ledgerOnly...)

	perUser := make([]model.UserStats, 0, len(order))
	for _, userID := range order {
		st := statsByUser[userID]
		st.Credits = balances[userID]
		perUser = append(perUser, *st)
	}

	return &model.Report{
		TotalUsers:   len(perUser),
		TotalEntries: len(entries),
		PerUser:      perUser,
		AllEntries:   entries,
	}, nil
}

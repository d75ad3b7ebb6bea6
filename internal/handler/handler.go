// Package handler содержит HTTP-обработчики API сервиса мем-кредитов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/memeraffle-system/internal/middleware"
	"github.com/mmeshcher/memeraffle-system/internal/model"
	"github.com/mmeshcher/memeraffle-system/internal/service"
)

// checkoutCompletedEvent — единственный тип события, приводящий к начислению.
const checkoutCompletedEvent = "checkout.session.completed"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	GetCredits(ctx context.Context, userID string) (int64, error)
	ProcessPurchaseConfirmed(ctx context.Context, event model.PurchaseEvent) (*model.PurchaseResult, error)
	GenerateMeme(ctx context.Context, userID, topText, bottomText string) ([]byte, error)
	MemeContentType() string
	BuildReport(ctx context.Context) (*model.Report, error)
	ResetBalance(ctx context.Context, userID string) error
}

// Handler реализует HTTP-обработчики API сервиса мем-кредитов.
type Handler struct {
	service    Service
	logger     *zap.Logger
	signature  *middleware.SignatureMiddleware
	demoUserID string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, signature *middleware.SignatureMiddleware, demoUserID string) *Handler {
	return &Handler{
		service:    s,
		logger:     logger,
		signature:  signature,
		demoUserID: demoUserID,
	}
}

type creditsResponse struct {
	Credits int64 `json:"credits"`
}

// GetCredits возвращает баланс кредитов пользователя из query-параметра userId.
// Без параметра используется демо-пользователь.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = h.demoUserID
	}

	credits, err := h.service.GetCredits(r.Context(), userID)
	if err != nil {
		h.logger.Error("get credits error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, creditsResponse{Credits: credits})
}

type webhookRequest struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		UserID      string  `json:"userId"`
		AmountTotal float64 `json:"amountTotal"`
	} `json:"data"`
}

type webhookResponse struct {
	Received bool `json:"received"`
}

// Webhook обрабатывает событие подтверждения покупки от платёжного провайдера.
// Подпись тела уже проверена middleware. События других типов подтверждаются
// без изменения состояния; повторная доставка подтверждается, но не применяется.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Type != checkoutCompletedEvent {
		writeJSON(w, h.logger, webhookResponse{Received: true})
		return
	}

	if req.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	userID := req.Data.UserID
	if userID == "" {
		userID = h.demoUserID
	}

	event := model.PurchaseEvent{
		ID:     req.ID,
		UserID: userID,
		// Округление обязательно: усечение занижало бы суммы вида 0.29 на один цент.
		AmountCents: int64(math.Round(req.Data.AmountTotal * 100)),
	}

	result, err := h.service.ProcessPurchaseConfirmed(r.Context(), event)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateEvent) {
			h.logger.Info("duplicate purchase event", zap.String("eventID", req.ID))
			writeJSON(w, h.logger, webhookResponse{Received: true})
			return
		}
		if errors.Is(err, service.ErrPartialApplication) {
			// Аномалия: кредиты начислены, участие не записано.
			h.logger.Error("purchase event partially applied",
				zap.Error(err),
				zap.String("eventID", req.ID),
				zap.String("userID", userID),
			)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		h.logger.Error("webhook processing error", zap.Error(err), zap.String("eventID", req.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.logger.Info("purchase confirmed",
		zap.String("eventID", req.ID),
		zap.String("userID", userID),
		zap.Int64("newBalance", result.NewBalance),
		zap.String("entryID", result.Entry.ID),
	)

	writeJSON(w, h.logger, webhookResponse{Received: true})
}

type memeRequest struct {
	UserID     string `json:"userId"`
	TopText    string `json:"topText"`
	BottomText string `json:"bottomText"`
}

// GenerateMeme списывает стоимость генерации и возвращает изображение мема.
func (h *Handler) GenerateMeme(w http.ResponseWriter, r *http.Request) {
	var req memeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		req.UserID = h.demoUserID
	}

	img, err := h.service.GenerateMeme(r.Context(), req.UserID, req.TopText, req.BottomText)
	if err != nil {
		if errors.Is(err, service.ErrEmptyMemeText) {
			http.Error(w, "meme text is required", http.StatusBadRequest)
			return
		}
		if errors.Is(err, service.ErrInsufficientCredits) {
			http.Error(w, "not enough credits", http.StatusPaymentRequired)
			return
		}
		h.logger.Error("generate meme error", zap.Error(err), zap.String("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", h.service.MemeContentType())
	if _, err := w.Write(img); err != nil {
		h.logger.Error("write meme response error", zap.Error(err))
	}
}

type userStatsResponse struct {
	UserID        string  `json:"userId"`
	Credits       int64   `json:"credits"`
	RaffleEntries int     `json:"raffleEntries"`
	TotalSpent    float64 `json:"totalSpent"`
}

type entryResponse struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userId"`
	EntryDate      string  `json:"entryDate"`
	PurchaseAmount float64 `json:"purchaseAmount"`
	Status         string  `json:"status"`
}

type statsResponse struct {
	TotalRaffleEntries int                 `json:"totalRaffleEntries"`
	TotalUsers         int                 `json:"totalUsers"`
	UserStats          []userStatsResponse `json:"userStats"`
	RaffleEntries      []entryResponse     `json:"raffleEntries"`
}

// AdminStats возвращает сводный отчёт по балансам и участиям в розыгрыше.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.BuildReport(r.Context())
	if err != nil {
		h.logger.Error("build report error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := statsResponse{
		TotalRaffleEntries: report.TotalEntries,
		TotalUsers:         report.TotalUsers,
		UserStats:          make([]userStatsResponse, 0, len(report.PerUser)),
		RaffleEntries:      make([]entryResponse, 0, len(report.AllEntries)),
	}

	for _, st := range report.PerUser {
		resp.UserStats = append(resp.UserStats, userStatsResponse{
			UserID:        st.UserID,
			Credits:       st.Credits,
			RaffleEntries: st.EntryCount,
			TotalSpent:    float64(st.TotalSpentCents) / 100,
		})
	}

	for _, e := range report.AllEntries {
		resp.RaffleEntries = append(resp.RaffleEntries, entryResponse{
			ID:             e.ID,
			UserID:         e.UserID,
			EntryDate:      e.EntryDate.Format(time.RFC3339),
			PurchaseAmount: float64(e.AmountCents) / 100,
			Status:         string(e.Status),
		})
	}

	writeJSON(w, h.logger, resp)
}

type resetRequest struct {
	UserID string `json:"userId"`
}

// ResetBalance безусловно обнуляет баланс пользователя. Административная операция.
func (h *Handler) ResetBalance(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	if err := h.service.ResetBalance(r.Context(), req.UserID); err != nil {
		h.logger.Error("reset balance error", zap.Error(err), zap.String("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}

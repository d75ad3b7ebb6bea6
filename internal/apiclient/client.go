// Package apiclient предоставляет устойчивый клиент API сервиса мем-кредитов
// с таймаутами, повторами и экспоненциальной задержкой.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/sethvargo/go-retry"
)

// ErrTimeout помечает ошибку, вызванную истечением таймаута попытки.
// После исчерпания повторов вызывающий отличает таймаут от прочих
// причин через errors.Is.
var ErrTimeout = errors.New("request timed out")

const (
	defaultTimeout        = 10 * time.Second
	defaultMaxRetries     = 3
	defaultBaseRetryDelay = 1 * time.Second
)

// Options настраивает поведение повторов клиента. Нулевые значения
// заменяются значениями по умолчанию: таймаут попытки 10s, 3 повтора,
// базовая задержка 1s. Отрицательный MaxRetries отключает повторы:
// выполняется ровно одна попытка.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	BaseRetryDelay time.Duration
}

// Client инкапсулирует HTTP-взаимодействие с API сервиса мем-кредитов.
// Каждая попытка выполняется под собственным таймаутом; повторяются только
// таймауты, сетевые ошибки и ответы 5xx. Ответ 4xx — постоянная ошибка
// вызывающего, её повтор лишь маскировал бы проблему.
type Client struct {
	baseURL    string
	httpClient *http.Client
	opts       Options
}

// NewClient создаёт клиент для обращения к сервису по указанному адресу.
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseRetryDelay <= 0 {
		opts.BaseRetryDelay = defaultBaseRetryDelay
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: cleanhttp.DefaultPooledClient(),
		opts:       opts,
	}
}

// Get выполняет GET-запрос и декодирует JSON-ответ в out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post выполняет POST-запрос с JSON-телом и декодирует JSON-ответ в out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("api client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(uint64(c.opts.MaxRetries), retry.NewExponential(c.opts.BaseRetryDelay))

	// retry.Do прерывает ожидание задержки при отмене контекста вызывающего.
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		return c.attempt(ctx, method, base+path, payload, out)
	})
}

func (c *Client) attempt(ctx context.Context, method, fullURL string, payload []byte, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Отмена со стороны вызывающего прекращает и попытку, и повторы.
		if ctx.Err() != nil {
			return fmt.Errorf("do request: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return retry.RetryableError(fmt.Errorf("%w after %s", ErrTimeout, c.opts.Timeout))
		}
		return retry.RetryableError(fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, resp.Body)
		return retry.RetryableError(fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// Таймаут попытки может сработать уже во время чтения тела.
		if ctx.Err() != nil {
			return fmt.Errorf("decode response: %w", ctx.Err())
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return retry.RetryableError(fmt.Errorf("%w after %s", ErrTimeout, c.opts.Timeout))
		}
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// CreditsResponse описывает ответ на запрос баланса.
type CreditsResponse struct {
	Credits int64 `json:"credits"`
}

// Credits запрашивает баланс кредитов указанного пользователя.
func (c *Client) Credits(ctx context.Context, userID string) (int64, error) {
	var resp CreditsResponse
	if err := c.Get(ctx, "/api/credits?userId="+url.QueryEscape(userID), &resp); err != nil {
		return 0, err
	}
	return resp.Credits, nil
}

// UserStats описывает статистику одного пользователя в административном отчёте.
type UserStats struct {
	UserID        string  `json:"userId"`
	Credits       int64   `json:"credits"`
	RaffleEntries int     `json:"raffleEntries"`
	TotalSpent    float64 `json:"totalSpent"`
}

// RaffleEntry описывает участие в розыгрыше в административном отчёте.
type RaffleEntry struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userId"`
	EntryDate      string  `json:"entryDate"`
	PurchaseAmount float64 `json:"purchaseAmount"`
	Status         string  `json:"status"`
}

// AdminStats описывает сводный административный отчёт сервиса.
type AdminStats struct {
	TotalRaffleEntries int64         `json:"totalRaffleEntries"`
	TotalUsers         int           `json:"totalUsers"`
	UserStats          []UserStats   `json:"userStats"`
	RaffleEntries      []RaffleEntry `json:"raffleEntries"`
}

// Stats запрашивает сводный административный отчёт.
func (c *Client) Stats(ctx context.Context) (*AdminStats, error) {
	var resp AdminStats
	if err := c.Get(ctx, "/api/admin/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

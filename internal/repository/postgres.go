package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/memeraffle-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу балансов и участий в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetBalance возвращает баланс пользователя. Для неизвестного пользователя — 0.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := r.pool.QueryRow(ctx,
		`SELECT credits FROM balances WHERE user_id = $1`,
		userID,
	).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return credits, nil
}

// AddCredits увеличивает баланс пользователя, создавая запись при первом обращении.
func (r *PostgresRepository) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("add credits: %w", ErrNegativeAmount)
	}

	var credits int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO balances (user_id, credits) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE SET credits = balances.credits + EXCLUDED.credits
			 RETURNING credits`,
			userID, amount,
		).Scan(&credits)
	})
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return credits, nil
}

// DeductCredits списывает кредиты, если баланса достаточно. Использует блокировку
// строки пользователя для сериализации конкурентных списаний.
func (r *PostgresRepository) DeductCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("deduct credits: %w", ErrNegativeAmount)
	}

	var deducted bool
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var credits int64
		err = tx.QueryRow(ctx,
			`SELECT credits FROM balances WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&credits)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				deducted = false
				return nil
			}
			return fmt.Errorf("lock balance: %w", err)
		}

		if credits < amount {
			deducted = false
			return nil
		}

		_, err = tx.Exec(ctx,
			`UPDATE balances SET credits = credits - $2 WHERE user_id = $1`,
			userID, amount,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		deducted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deducted, nil
}

// ResetBalance безусловно обнуляет баланс пользователя.
func (r *PostgresRepository) ResetBalance(ctx context.Context, userID string) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO balances (user_id, credits) VALUES ($1, 0)
			 ON CONFLICT (user_id) DO UPDATE SET credits = 0`,
			userID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("reset balance: %w", err)
	}
	return nil
}

// EnsureSeeded устанавливает стартовый баланс, если у пользователя ещё нет записи.
func (r *PostgresRepository) EnsureSeeded(ctx context.Context, userID string, amount int64) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO balances (user_id, credits) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO NOTHING`,
			userID, amount,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("ensure seeded: %w", err)
	}
	return nil
}

// Balances возвращает балансы всех пользователей.
func (r *PostgresRepository) Balances(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, credits FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var userID string
		var credits int64
		if err := rows.Scan(&userID, &credits); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out[userID] = credits
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

// CreateEntry сохраняет запись участия в розыгрыше.
func (r *PostgresRepository) CreateEntry(ctx context.Context, entry model.RaffleEntry) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO raffle_entries (id, user_id, entry_date, amount_cents, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			entry.ID, entry.UserID, entry.EntryDate, entry.AmountCents, string(entry.Status),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

// EntriesByUser возвращает участия пользователя в порядке добавления.
func (r *PostgresRepository) EntriesByUser(ctx context.Context, userID string) ([]model.RaffleEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, entry_date, amount_cents, status
		 FROM raffle_entries
		 WHERE user_id = $1
		 ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// AllEntries возвращает участия всех пользователей, внутри одного пользователя —
// в порядке добавления.
func (r *PostgresRepository) AllEntries(ctx context.Context) ([]model.RaffleEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, entry_date, amount_cents, status
		 FROM raffle_entries
		 ORDER BY user_id, seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("select all entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]model.RaffleEntry, error) {
	var res []model.RaffleEntry
	for rows.Next() {
		var (
			e      model.RaffleEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntryDate, &e.AmountCents, &status); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Status = model.EntryStatus(status)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountEntries возвращает общее число участий.
func (r *PostgresRepository) CountEntries(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM raffle_entries`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return total, nil
}

// MarkEventProcessed запоминает идентификатор обработанного события платёжного
// провайдера. Возвращает false, если событие уже встречалось: провайдеры
// доставляют вебхуки как минимум один раз, повтор — штатная ситуация.
func (r *PostgresRepository) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var inserted bool
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO processed_events (event_id) VALUES ($1)`,
			eventID,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				inserted = false
				return nil
			}
			return fmt.Errorf("insert processed event: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

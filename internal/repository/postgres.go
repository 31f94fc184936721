// Package repository содержит реализацию доступа к данным в PostgreSQL.
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
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/mycred-memberships/internal/model"
	"github.com/mmeshcher/mycred-memberships/internal/rules"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const ledgerTable = "ledger_entries"

// HookID задаёт идентификатор хука, под которым хранятся настройки.
const HookID = "mycred_woocommerce_memberships"

// ErrPlanSlugConflict возвращается, если slug плана уже занят другим планом.
var ErrPlanSlugConflict = errors.New("membership plan slug already used by another plan")

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
// Репозиторий реализует оракул исключений, оракул лимитов и журнал начислений.
type PostgresRepository struct {
	pool      *pgxpool.Pool
	pointType string
	now       func() time.Time
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
// pointType задаёт тип баллов, по которому считаются лимиты; пустое значение означает тип по умолчанию.
func NewPostgresRepository(dsn, pointType string) (*PostgresRepository, error) {
	if pointType == "" {
		pointType = rules.DefaultPointType
	}

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

	r := &PostgresRepository{pool: pool, pointType: pointType, now: time.Now}

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

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Serialization Failure и Deadlock имеет смысл повторить, остальные pg-ошибки нет.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
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

// ListPlans возвращает известные планы членства, упорядоченные по идентификатору.
func (r *PostgresRepository) ListPlans(ctx context.Context) ([]model.MembershipPlan, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, slug, name FROM membership_plans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select plans: %w", err)
	}
	defer rows.Close()

	var plans []model.MembershipPlan
	for rows.Next() {
		var p model.MembershipPlan
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return plans, nil
}

// ReplacePlans заменяет список планов переданным: новые добавляются, изменённые обновляются,
// отсутствующие удаляются.
func (r *PostgresRepository) ReplacePlans(ctx context.Context, plans []model.MembershipPlan) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		ids := make([]int64, 0, len(plans))
		for _, p := range plans {
			ids = append(ids, p.ID)
		}

		_, err = tx.Exec(ctx, `DELETE FROM membership_plans WHERE NOT (id = ANY($1))`, ids)
		if err != nil {
			return fmt.Errorf("delete stale plans: %w", err)
		}

		for _, p := range plans {
			_, err := tx.Exec(ctx,
				`INSERT INTO membership_plans (id, slug, name) VALUES ($1, $2, $3)
				 ON CONFLICT (id) DO UPDATE SET slug = EXCLUDED.slug, name = EXCLUDED.name, updated_at = now()`,
				p.ID, p.Slug, p.Name,
			)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
					return fmt.Errorf("%w: %s", ErrPlanSlugConflict, p.Slug)
				}
				return fmt.Errorf("upsert plan: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetPreferences возвращает сохранённые настройки хука. Если настроек нет, возвращается пустой набор.
func (r *PostgresRepository) GetPreferences(ctx context.Context) (model.RawPreferences, error) {
	var raw model.RawPreferences
	err := r.pool.QueryRow(ctx,
		`SELECT prefs FROM hook_preferences WHERE hook_id = $1`,
		HookID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RawPreferences{}, nil
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	if raw == nil {
		raw = model.RawPreferences{}
	}
	return raw, nil
}

// SavePreferences сохраняет настройки хука целиком.
func (r *PostgresRepository) SavePreferences(ctx context.Context, raw model.RawPreferences) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO hook_preferences (hook_id, prefs) VALUES ($1, $2)
			 ON CONFLICT (hook_id) DO UPDATE SET prefs = EXCLUDED.prefs, updated_at = now()`,
			HookID, raw,
		)
		if err != nil {
			return fmt.Errorf("save preferences: %w", err)
		}
		return nil
	})
}

// IsExcluded сообщает, исключён ли пользователь из начислений.
func (r *PostgresRepository) IsExcluded(ctx context.Context, userID int64) (bool, error) {
	var excluded bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM excluded_users WHERE user_id = $1)`,
		userID,
	).Scan(&excluded)
	if err != nil {
		return false, fmt.Errorf("check exclusion: %w", err)
	}
	return excluded, nil
}

// SetExcluded добавляет пользователя в список исключённых или удаляет из него.
func (r *PostgresRepository) SetExcluded(ctx context.Context, userID int64, excluded bool) error {
	var err error
	if excluded {
		_, err = r.pool.Exec(ctx,
			`INSERT INTO excluded_users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			userID,
		)
	} else {
		_, err = r.pool.Exec(ctx, `DELETE FROM excluded_users WHERE user_id = $1`, userID)
	}
	if err != nil {
		return fmt.Errorf("set exclusion: %w", err)
	}
	return nil
}

// IsOverLimit сообщает, достиг ли пользователь лимита начислений по типу операции в текущем окне.
// Учитываются только записи с типом баллов репозитория.
func (r *PostgresRepository) IsOverLimit(ctx context.Context, scopeKey, reference string, userID int64, limit model.LimitSpec) (bool, error) {
	if limit.Unlimited() {
		return false, nil
	}

	query, args := limitCountQuery(reference, userID, r.pointType, limit, r.now())

	var count int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("count entries for %s: %w", scopeKey, err)
	}

	return reachedLimit(count, limit), nil
}

// limitCountQuery строит запрос числа записей журнала, попадающих в окно лимита.
// Для периода "t" окно не ограничено по времени.
func limitCountQuery(reference string, userID int64, pointType string, limit model.LimitSpec, now time.Time) (string, []any) {
	query := `SELECT COUNT(*) FROM ` + ledgerTable + ` WHERE reference = $1 AND user_id = $2 AND point_type = $3`
	args := []any{reference, userID, pointType}

	if start, windowed := limit.WindowStart(now); windowed {
		query += ` AND created_at >= $4`
		args = append(args, start)
	}

	return query, args
}

func reachedLimit(count int64, limit model.LimitSpec) bool {
	if limit.Unlimited() {
		return false
	}
	return count >= int64(limit.Count)
}

// AddCredits записывает начисление в журнал. Без явного типа баллов используется тип репозитория.
func (r *PostgresRepository) AddCredits(ctx context.Context, req model.AwardRequest) error {
	data := req.Extra
	if data == nil {
		data = map[string]string{}
	}
	if req.PointType == "" {
		req.PointType = r.pointType
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO `+ledgerTable+` (reference, user_id, amount, entry, ref_id, data, point_type, event_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			req.Reference, req.UserID, req.Amount, req.RenderedLog, req.SubjectID, data, req.PointType, req.EventID,
		)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		return nil
	})
}

// GetBalance возвращает сумму начислений пользователя по типу баллов.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64, pointType string) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM `+ledgerTable+` WHERE user_id = $1 AND point_type = $2`,
		userID, pointType,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}
	return total, nil
}

// GetEntriesByUser возвращает последние записи журнала пользователя.
func (r *PostgresRepository) GetEntriesByUser(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, reference, user_id, amount, entry, ref_id, data, point_type, event_id, created_at
		 FROM `+ledgerTable+`
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Reference, &e.UserID, &e.Amount, &e.Entry, &e.RefID, &e.Data, &e.PointType, &e.EventID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

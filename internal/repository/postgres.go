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
	"github.com/sethvargo/go-retry"

	"github.com/mpetrenko/purchase-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrCompanyNotFound возвращается, если компания не существует или принадлежит
	// другому пользователю. Оба случая намеренно неразличимы.
	ErrCompanyNotFound = errors.New("company not found")
	// ErrOrderNotFound возвращается, если заказ не существует или принадлежит
	// другому пользователю. Оба случая намеренно неразличимы.
	ErrOrderNotFound = errors.New("order not found")
)

// DueNotification описывает заказ, по которому пора отправить напоминание.
// Имя компании равно nil, если компания была удалена.
type DueNotification struct {
	OrderID     int64
	Email       string
	OrderDate   time.Time
	TotalCents  int64
	CompanyName *string
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
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

// withRetry повторяет операцию при временных ошибках БД: сбоях сериализации,
// дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateCompany создаёт компанию, принадлежащую пользователю.
func (r *PostgresRepository) CreateCompany(ctx context.Context, userID int64, name, address string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO companies (user_id, name, address) VALUES ($1, $2, $3) RETURNING id`,
		userID, name, address,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create company: %w", err)
	}
	return id, nil
}

// GetCompany возвращает компанию пользователя. Чужая или отсутствующая
// компания возвращается как ErrCompanyNotFound.
func (r *PostgresRepository) GetCompany(ctx context.Context, id, userID int64) (*model.Company, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, name, address, created_at FROM companies WHERE id = $1 AND user_id = $2`,
		id, userID,
	)

	var c model.Company
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Address, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("get company: %w", err)
	}

	return &c, nil
}

// GetCompaniesByUser возвращает список компаний пользователя.
func (r *PostgresRepository) GetCompaniesByUser(ctx context.Context, userID int64) ([]model.Company, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, name, address, created_at
		 FROM companies
		 WHERE user_id = $1
		 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select companies: %w", err)
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Address, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		companies = append(companies, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return companies, nil
}

// DeleteCompany удаляет компанию пользователя. Заказы, ссылающиеся на неё,
// сохраняют идентификатор и продолжают обслуживаться.
func (r *PostgresRepository) DeleteCompany(ctx context.Context, id, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM companies WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

// CreateOrder атомарно сохраняет заказ вместе с позициями и возвращает его
// идентификатор. Частичная запись заказа без позиций невозможна.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order) (int64, error) {
	var orderID int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`INSERT INTO orders (user_id, company_id, order_date, total_amount, notification_email, notify_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			order.UserID, order.CompanyID, order.OrderDate, order.TotalCents,
			order.NotificationEmail, order.NotifyAt,
		).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range order.LineItems {
			it := &order.LineItems[i]
			err = tx.QueryRow(ctx,
				`INSERT INTO line_items (order_id, product_id, quantity, unit_price)
				 VALUES ($1, $2, $3, $4)
				 RETURNING id`,
				orderID, it.ProductID, it.Quantity, it.UnitPriceCents,
			).Scan(&it.ID)
			if err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
			it.OrderID = orderID
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	order.ID = orderID
	return orderID, nil
}

// GetOrder возвращает заказ пользователя вместе с позициями. Чужой или
// отсутствующий заказ возвращается как ErrOrderNotFound.
func (r *PostgresRepository) GetOrder(ctx context.Context, id, userID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, company_id, order_date, total_amount, notification_email, notify_at, created_at
		 FROM orders
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	)

	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.CompanyID, &o.OrderDate, &o.TotalCents,
		&o.NotificationEmail, &o.NotifyAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.lineItemsByOrders(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.LineItems = items[o.ID]

	return &o, nil
}

// GetOrdersByUser возвращает список заказов пользователя вместе с позициями.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, company_id, order_date, total_amount, notification_email, notify_at, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	var ids []int64
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.CompanyID, &o.OrderDate, &o.TotalCents,
			&o.NotificationEmail, &o.NotifyAt, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.lineItemsByOrders(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].LineItems = items[orders[i].ID]
	}

	return orders, nil
}

func (r *PostgresRepository) lineItemsByOrders(ctx context.Context, orderIDs []int64) (map[int64][]model.LineItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price
		 FROM line_items
		 WHERE order_id = ANY($1)
		 ORDER BY id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select line items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]model.LineItem)
	for rows.Next() {
		var it model.LineItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items[it.OrderID] = append(items[it.OrderID], it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// DeleteOrder удаляет заказ пользователя. Позиции удаляются каскадно.
// Чужой или отсутствующий заказ возвращается как ErrOrderNotFound.
func (r *PostgresRepository) DeleteOrder(ctx context.Context, id, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM orders WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetDueNotifications возвращает заказы с наступившим временем напоминания
// и непустым адресом получателя, независимо от владельца.
func (r *PostgresRepository) GetDueNotifications(ctx context.Context, now time.Time) ([]DueNotification, error) {
	var res []DueNotification

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT o.id, o.notification_email, o.order_date, o.total_amount, c.name
			 FROM orders o
			 LEFT JOIN companies c ON c.id = o.company_id
			 WHERE o.notify_at IS NOT NULL AND o.notify_at <= $1 AND o.notification_email <> ''
			 ORDER BY o.notify_at`,
			now,
		)
		if err != nil {
			return fmt.Errorf("select due notifications: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var n DueNotification
			if err := rows.Scan(&n.OrderID, &n.Email, &n.OrderDate, &n.TotalCents, &n.CompanyName); err != nil {
				return fmt.Errorf("scan due notification: %w", err)
			}
			res = append(res, n)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ClearNotification сбрасывает время напоминания заказа, предотвращая
// повторную отправку. Если заказ к этому моменту удалён, операция ничего
// не делает.
func (r *PostgresRepository) ClearNotification(ctx context.Context, orderID int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE orders SET notify_at = NULL WHERE id = $1`,
			orderID,
		)
		if err != nil {
			return fmt.Errorf("clear notification: %w", err)
		}
		return nil
	})
}

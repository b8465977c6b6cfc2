package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/database"
)

const accountColumns = `id, email, device_id, subscription_status, has_device_owner, selected_plan,
	commitment_days, commitment_start, commitment_end, created_at, updated_at`

// AccountRepository implements repository.AccountStore.
type AccountRepository struct {
	pool database.DBTX
}

func NewAccountRepository(pool database.DBTX) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) Get(ctx context.Context, id string) (*domain.Account, error) {
	return r.getBy(ctx, "GetAccount", "id", id)
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getBy(ctx, "GetAccountByEmail", "email", strings.ToLower(strings.TrimSpace(email)))
}

func (r *AccountRepository) GetByDeviceID(ctx context.Context, deviceID string) (*domain.Account, error) {
	return r.getBy(ctx, "GetAccountByDevice", "device_id", deviceID)
}

// getBy only ever receives column names from the methods above.
func (r *AccountRepository) getBy(ctx context.Context, op, column, value string) (a *domain.Account, err error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = $1 LIMIT 1`
	ctx, end := database.TraceQuery(ctx, op, q)
	defer func() { end(err) }()

	a, err = scanAccount(r.pool.QueryRow(ctx, q, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by %s: %w", column, err)
	}
	return a, nil
}

// Set upserts the whole record. created_at is never overwritten.
func (r *AccountRepository) Set(ctx context.Context, a *domain.Account) (err error) {
	q := `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			device_id = EXCLUDED.device_id,
			subscription_status = EXCLUDED.subscription_status,
			has_device_owner = EXCLUDED.has_device_owner,
			selected_plan = EXCLUDED.selected_plan,
			commitment_days = EXCLUDED.commitment_days,
			commitment_start = EXCLUDED.commitment_start,
			commitment_end = EXCLUDED.commitment_end,
			updated_at = EXCLUDED.updated_at`
	ctx, end := database.TraceQuery(ctx, "SetAccount", q)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, q,
		a.ID, a.Email, a.DeviceID, string(a.SubscriptionStatus), a.HasDeviceOwner, a.SelectedPlan,
		a.CommitmentDays, a.CommitmentStart, a.CommitmentEnd, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a          domain.Account
		status     string
		start, end *time.Time
	)
	if err := row.Scan(&a.ID, &a.Email, &a.DeviceID, &status, &a.HasDeviceOwner, &a.SelectedPlan,
		&a.CommitmentDays, &start, &end, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.SubscriptionStatus = domain.SubscriptionStatus(status)
	if start != nil {
		t := start.UTC()
		a.CommitmentStart = &t
	}
	if end != nil {
		t := end.UTC()
		a.CommitmentEnd = &t
	}
	return &a, nil
}

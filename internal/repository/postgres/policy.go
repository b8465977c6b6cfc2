package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/database"
	apperrors "github.com/sobhihamadi/TakwaFortress-sub000/pkg/errors"
)

const policyColumns = `p.id, p.device_id, p.plan, p.activated_at, p.expires_at, p.activation_method,
	p.blocked_apps, p.dns_forced, p.safe_mode_disabled, p.factory_reset_blocked,
	p.time_protection_active, p.state`

// PolicyRepository implements repository.PolicyStore. The current slot is the
// active_policy table, one row per device.
type PolicyRepository struct {
	pool database.DBTX
}

func NewPolicyRepository(pool database.DBTX) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

func (r *PolicyRepository) GetActive(ctx context.Context, deviceID string) (p *domain.Policy, err error) {
	q := `SELECT ` + policyColumns + `
		FROM active_policy a
		JOIN policies p ON p.id = a.policy_id
		WHERE a.device_id = $1`

	ctx, end := database.TraceQuery(ctx, "GetActivePolicy", q)
	defer func() { end(err) }()

	p, err = scanPolicy(r.pool.QueryRow(ctx, q, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active policy: %w", err)
	}
	return p, nil
}

func (r *PolicyRepository) SetActive(ctx context.Context, p *domain.Policy) (err error) {
	ctx, end := database.TraceQuery(ctx, "SetActivePolicy", "INSERT INTO policies; INSERT INTO active_policy")
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO policies (id, device_id, plan, activated_at, expires_at, activation_method,
			blocked_apps, dns_forced, safe_mode_disabled, factory_reset_blocked,
			time_protection_active, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.DeviceID, string(p.Plan.Name), p.ActivatedAt, p.ExpiresAt, string(p.ActivationMethod),
		p.BlockedApps, p.DNSForced, p.SafeModeDisabled, p.FactoryResetBlocked,
		p.TimeProtectionActive, string(p.State),
	)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO active_policy (device_id, policy_id) VALUES ($1, $2)
		ON CONFLICT (device_id) DO NOTHING`, p.DeviceID, p.ID)
	if err != nil {
		return fmt.Errorf("set active pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyActive
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *PolicyRepository) ClearActive(ctx context.Context, deviceID string) (err error) {
	q := `DELETE FROM active_policy WHERE device_id = $1`
	ctx, end := database.TraceQuery(ctx, "ClearActivePolicy", q)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, q, deviceID); err != nil {
		return fmt.Errorf("clear active policy: %w", err)
	}
	return nil
}

func (r *PolicyRepository) Update(ctx context.Context, p *domain.Policy) (err error) {
	q := `UPDATE policies
		SET state = $2, dns_forced = $3, safe_mode_disabled = $4,
			factory_reset_blocked = $5, time_protection_active = $6, updated_at = NOW()
		WHERE id = $1`
	ctx, end := database.TraceQuery(ctx, "UpdatePolicy", q)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, q, p.ID, string(p.State), p.DNSForced, p.SafeModeDisabled,
		p.FactoryResetBlocked, p.TimeProtectionActive)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("policy", p.ID)
	}
	return nil
}

func (r *PolicyRepository) ListHistorical(ctx context.Context, deviceID string) (out []*domain.Policy, err error) {
	q := `SELECT ` + policyColumns + `
		FROM policies p
		LEFT JOIN active_policy a ON a.policy_id = p.id
		WHERE p.device_id = $1
		  AND (a.policy_id IS NULL OR p.state = 'UNLOCKABLE')
		ORDER BY p.activated_at DESC`
	ctx, end := database.TraceQuery(ctx, "ListHistoricalPolicies", q)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, q, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return out, nil
}

func scanPolicy(row pgx.Row) (*domain.Policy, error) {
	var (
		p                   domain.Policy
		plan, method, state string
	)
	err := row.Scan(&p.ID, &p.DeviceID, &plan, &p.ActivatedAt, &p.ExpiresAt, &method,
		&p.BlockedApps, &p.DNSForced, &p.SafeModeDisabled, &p.FactoryResetBlocked,
		&p.TimeProtectionActive, &state)
	if err != nil {
		return nil, err
	}
	p.Plan, err = domain.PlanByName(plan)
	if err != nil {
		return nil, err
	}
	p.ActivationMethod = domain.ActivationMethod(method)
	p.State = domain.FortressState(state)
	p.ActivatedAt = p.ActivatedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()
	return &p, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/database"
)

// BlockedAppRepository implements repository.BlockedAppStore.
type BlockedAppRepository struct {
	pool database.DBTX
}

func NewBlockedAppRepository(pool database.DBTX) *BlockedAppRepository {
	return &BlockedAppRepository{pool: pool}
}

func (r *BlockedAppRepository) List(ctx context.Context, deviceID string) ([]string, error) {
	return listPackages(ctx, r.pool, "blocked_apps", deviceID)
}

// Replace swaps the device's snapshot atomically.
func (r *BlockedAppRepository) Replace(ctx context.Context, deviceID string, pkgs []string) (err error) {
	ctx, end := database.TraceQuery(ctx, "ReplaceBlockedApps", "DELETE/INSERT blocked_apps")
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, `DELETE FROM blocked_apps WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("delete blocked apps: %w", err)
	}
	if len(pkgs) > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO blocked_apps (device_id, package)
			SELECT $1, UNNEST($2::text[])
			ON CONFLICT DO NOTHING`, deviceID, pkgs)
		if err != nil {
			return fmt.Errorf("insert blocked apps: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *BlockedAppRepository) DeleteAll(ctx context.Context, deviceID string) (err error) {
	q := `DELETE FROM blocked_apps WHERE device_id = $1`
	ctx, end := database.TraceQuery(ctx, "DeleteBlockedApps", q)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, q, deviceID); err != nil {
		return fmt.Errorf("delete blocked apps: %w", err)
	}
	return nil
}

// UserBlockListRepository implements repository.UserBlockListStore.
type UserBlockListRepository struct {
	pool database.DBTX
}

func NewUserBlockListRepository(pool database.DBTX) *UserBlockListRepository {
	return &UserBlockListRepository{pool: pool}
}

func (r *UserBlockListRepository) List(ctx context.Context, deviceID string) ([]string, error) {
	return listPackages(ctx, r.pool, "user_block_list", deviceID)
}

func (r *UserBlockListRepository) Add(ctx context.Context, deviceID, pkg string) (err error) {
	q := `INSERT INTO user_block_list (device_id, package) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	ctx, end := database.TraceQuery(ctx, "AddUserBlock", q)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, q, deviceID, pkg); err != nil {
		return fmt.Errorf("add user block: %w", err)
	}
	return nil
}

func (r *UserBlockListRepository) Remove(ctx context.Context, deviceID, pkg string) (err error) {
	q := `DELETE FROM user_block_list WHERE device_id = $1 AND package = $2`
	ctx, end := database.TraceQuery(ctx, "RemoveUserBlock", q)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, q, deviceID, pkg); err != nil {
		return fmt.Errorf("remove user block: %w", err)
	}
	return nil
}

// listPackages reads one of the two package tables. table is never user input.
func listPackages(ctx context.Context, db database.DBTX, table, deviceID string) (out []string, err error) {
	q := `SELECT package FROM ` + table + ` WHERE device_id = $1 ORDER BY package`
	ctx, end := database.TraceQuery(ctx, "List_"+table, q)
	defer func() { end(err) }()

	rows, err := db.Query(ctx, q, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var pkg string
		if err := rows.Scan(&pkg); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, pkg)
	}
	return out, rows.Err()
}

package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// busyAttempts and busyStep bound the retry loop: 3 tries, sleeping
// 100ms then 200ms between them.
const (
	busyAttempts = 3
	busyStep     = 100 * time.Millisecond
)

// IsBusy reports whether err is an SQLite BUSY or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(err.Error(), s) {
			return true
		}
	}
	return false
}

// retryBusy runs op until it succeeds, fails with a non-BUSY error, or
// runs out of attempts.
func retryBusy(ctx context.Context, op func() error) error {
	var err error
	for i := 1; i <= busyAttempts; i++ {
		if err = op(); err == nil || !IsBusy(err) || i == busyAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dbopen: cancelled while busy: %w", ctx.Err())
		case <-time.After(time.Duration(i) * busyStep):
		}
	}
	return err
}

// RunTx executes fn inside a transaction, retrying the whole transaction
// while the database reports BUSY. fn may run more than once.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return retryBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec runs a single statement with the same BUSY retry as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryBusy(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Package migrate applies changelogs to a PostgreSQL database and records
// them in Liquibase-compatible bookkeeping tables.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andrewkroh/pgsourcegen/internal/changelog"
)

const (
	// ChangelogTable records every executed changeset.
	ChangelogTable = "databasechangelog"

	// LockTable holds the single row used to serialize updates.
	LockTable = "databasechangeloglock"
)

// ErrLocked is returned when another process holds the changelog lock.
var ErrLocked = errors.New("changelog lock is held by another process")

// DB is the subset of *pgx.Conn (and *pgxpool.Pool) used by the Migrator.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ChangeSetError reports the changeset and statement that failed.
type ChangeSetError struct {
	ChangeSet string
	Statement int // Index of the failing statement, -1 for bookkeeping.
	SQL       string
	Err       error
}

func (e *ChangeSetError) Error() string {
	if e.Statement < 0 {
		return fmt.Sprintf("changeset %s: %v", e.ChangeSet, e.Err)
	}
	return fmt.Sprintf("changeset %s: statement %d: %v", e.ChangeSet, e.Statement+1, e.Err)
}

func (e *ChangeSetError) Unwrap() error { return e.Err }

// Code returns the SQLSTATE reported by PostgreSQL, or "" if the failure
// did not come from the server.
func (e *ChangeSetError) Code() string {
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Result summarizes an Update.
type Result struct {
	Steps      []Step // Changesets executed, in order.
	Deployment string // Value written to the deployment_id column.
}

// Migrator applies changelogs.
type Migrator struct {
	logger *slog.Logger
}

// New returns a Migrator that logs to logger, or to slog.Default if
// logger is nil.
func New(logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{logger: logger}
}

// Update applies every pending changeset of cl whose context expression
// matches contexts. Each changeset runs in its own transaction together
// with its bookkeeping row. Update stops at the first failing changeset;
// changesets before it stay applied.
func (m *Migrator) Update(ctx context.Context, db DB, cl *changelog.Changelog, contexts ...string) (*Result, error) {
	if err := ensureLockTable(ctx, db); err != nil {
		return nil, err
	}
	if err := acquireLock(ctx, db); err != nil {
		return nil, err
	}
	defer func() {
		// Release even when ctx was cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := releaseLock(rctx, db); err != nil {
			m.logger.Warn("failed to release changelog lock", "error", err)
		}
	}()

	if _, err := db.Exec(ctx, createChangelogTable); err != nil {
		return nil, fmt.Errorf("creating %s: %w", ChangelogTable, err)
	}

	applied, err := readApplied(ctx, db)
	if err != nil {
		return nil, err
	}

	steps, err := Plan(cl.ChangeSets, applied, contexts)
	if err != nil {
		return nil, err
	}

	order := 0
	for _, a := range applied {
		order = max(order, a.OrderExecuted)
	}

	res := &Result{Deployment: deploymentID()}
	m.logger.Info("applying changelog",
		"changelog", cl.Path,
		"changesets", len(cl.ChangeSets),
		"pending", len(steps),
		"contexts", strings.Join(contexts, ","))

	for _, step := range steps {
		order++
		start := time.Now()
		if err := m.apply(ctx, db, step, order, res.Deployment, contexts); err != nil {
			return res, err
		}
		res.Steps = append(res.Steps, step)
		m.logger.Debug("changeset applied",
			"changeset", step.ChangeSet.Key(),
			"exectype", step.ExecType,
			"duration", time.Since(start))
	}

	m.logger.Info("changelog applied", "executed", len(res.Steps))
	return res, nil
}

func (m *Migrator) apply(ctx context.Context, db DB, step Step, order int, deployment string, contexts []string) (err error) {
	cs := step.ChangeSet
	tx, err := db.Begin(ctx)
	if err != nil {
		return &ChangeSetError{ChangeSet: cs.Key(), Statement: -1, Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	// Exec without arguments uses the simple query protocol, which accepts
	// several statements in one string.
	for i, stmt := range cs.Statements() {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return &ChangeSetError{ChangeSet: cs.Key(), Statement: i, SQL: stmt, Err: err}
		}
	}

	if err := record(ctx, tx, step, order, deployment, contexts); err != nil {
		return &ChangeSetError{ChangeSet: cs.Key(), Statement: -1, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &ChangeSetError{ChangeSet: cs.Key(), Statement: -1, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func record(ctx context.Context, tx pgx.Tx, step Step, order int, deployment string, contexts []string) error {
	cs := step.ChangeSet
	if step.ExecType == Reran {
		_, err := tx.Exec(ctx, updateRan,
			order, string(Reran), cs.Checksum(), deployment,
			cs.ID, cs.Author, cs.Path)
		if err != nil {
			return fmt.Errorf("updating %s: %w", ChangelogTable, err)
		}
		return nil
	}

	_, err := tx.Exec(ctx, insertRan,
		cs.ID, cs.Author, cs.Path, order, string(Executed), cs.Checksum(),
		truncate(cs.Description(), 255), truncate(cs.Comment, 255),
		truncate(strings.Join(contexts, ","), 255), deployment)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", ChangelogTable, err)
	}
	return nil
}

func readApplied(ctx context.Context, db DB) ([]AppliedChangeSet, error) {
	rows, err := db.Query(ctx, selectApplied)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ChangelogTable, err)
	}
	applied, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AppliedChangeSet, error) {
		var a AppliedChangeSet
		var execType string
		err := row.Scan(&a.ID, &a.Author, &a.Filename, &a.Checksum, &a.OrderExecuted, &execType)
		a.ExecType = ExecType(execType)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ChangelogTable, err)
	}
	return applied, nil
}

func ensureLockTable(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, createLockTable); err != nil {
		return fmt.Errorf("creating %s: %w", LockTable, err)
	}
	return nil
}

func acquireLock(ctx context.Context, db DB) error {
	tag, err := db.Exec(ctx, acquireLockSQL, lockOwner())
	if err != nil {
		return fmt.Errorf("acquiring changelog lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var by string
		_ = db.QueryRow(ctx, lockHolder).Scan(&by)
		if by != "" {
			return fmt.Errorf("%w (%s)", ErrLocked, by)
		}
		return ErrLocked
	}
	return nil
}

func releaseLock(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, releaseLockSQL); err != nil {
		return fmt.Errorf("releasing changelog lock: %w", err)
	}
	return nil
}

func lockOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s (pid %d)", host, os.Getpid())
}

// deploymentID returns a 10 character identifier shared by all rows
// written in one Update.
func deploymentID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

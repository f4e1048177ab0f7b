package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/loomworks/loom-go/internal/repo"
)

// DB is the subset of *sql.DB the stores need; tests supply fakes.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

func handleConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repo.ErrConflict
	}
	return err
}

// requireRow maps a zero-row update to ErrNotFound.
func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// scopeClause renders a repo.Scope as a WHERE fragment. Placeholders
// continue from next; the returned int is the next free placeholder index.
func scopeClause(scope repo.Scope, next int, args *[]any) (string, int) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "user_id = $%d", next)
	*args = append(*args, scope.OwnerID)
	next++
	if len(scope.Visibilities) > 0 {
		placeholders := make([]string, 0, len(scope.Visibilities))
		for _, v := range scope.Visibilities {
			placeholders = append(placeholders, fmt.Sprintf("$%d", next))
			*args = append(*args, string(v))
			next++
		}
		fmt.Fprintf(&sb, " AND visibility IN (%s)", strings.Join(placeholders, ","))
	}
	return sb.String(), next
}

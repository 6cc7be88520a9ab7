package pg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
)

// tableRepo implementa repository.TableRepository sobre pgx.
// Las filas viajan como JSON (to_jsonb) para no atar el adapter a un shape fijo.
type tableRepo struct {
	pool *pgxpool.Pool
}

// NewTables crea el repositorio de tablas sobre un pool existente.
func NewTables(pool *pgxpool.Pool) repository.TableRepository {
	return &tableRepo{pool: pool}
}

func (r *tableRepo) Select(ctx context.Context, q repository.Query) ([]types.Row, error) {
	sql, args := buildSelect(q)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(q.Table, err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		var m map[string]any
		if err := rows.Scan(&m); err != nil {
			return nil, mapError(q.Table, err)
		}
		out = append(out, types.Row(m))
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(q.Table, err)
	}

	if q.Single {
		switch len(out) {
		case 0:
			return nil, &repository.StoreError{Kind: repository.KindNoRows, Table: q.Table, Message: "no rows in result set"}
		case 1:
		default:
			return nil, &repository.StoreError{Kind: repository.KindOther, Table: q.Table, Message: fmt.Sprintf("expected one row, got %d", len(out))}
		}
	}
	return out, nil
}

func (r *tableRepo) Insert(ctx context.Context, table string, rows ...types.Row) ([]types.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, mapError(table, err)
	}
	defer tx.Rollback(ctx)

	out := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		sql, args := buildInsert(table, row)
		var m map[string]any
		if err := tx.QueryRow(ctx, sql, args...).Scan(&m); err != nil {
			return nil, mapError(table, err)
		}
		out = append(out, types.Row(m))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError(table, err)
	}
	return out, nil
}

func (r *tableRepo) Delete(ctx context.Context, table string, filter repository.Filter) error {
	if len(filter) == 0 {
		return &repository.StoreError{Kind: repository.KindOther, Table: table, Message: "delete without filter refused"}
	}
	sql, args := buildDelete(table, filter)
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return mapError(table, err)
	}
	return nil
}

// ─── SQL builders ───

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func whereClause(alias string, filter repository.Filter, args []any) (string, []any) {
	if len(filter) == 0 {
		return "", args
	}
	conds := make([]string, 0, len(filter))
	for _, k := range sortedKeys(filter) {
		col := ident(k)
		if alias != "" {
			col = alias + "." + col
		}
		if filter[k] == nil {
			conds = append(conds, col+" IS NULL")
			continue
		}
		args = append(args, filter[k])
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func buildSelect(q repository.Query) (string, []any) {
	var proj string
	if len(q.Columns) == 0 {
		proj = "to_jsonb(t)"
	} else {
		parts := make([]string, 0, len(q.Columns))
		for _, c := range q.Columns {
			parts = append(parts, fmt.Sprintf("'%s', t.%s", strings.ReplaceAll(c, "'", "''"), ident(c)))
		}
		proj = "jsonb_build_object(" + strings.Join(parts, ", ") + ")"
	}

	from := ident(q.Table) + " t"
	if e := q.Embed; e != nil {
		as := e.As
		if as == "" {
			as = e.Table
		}
		proj = fmt.Sprintf("%s || jsonb_build_object('%s', to_jsonb(e))", proj, strings.ReplaceAll(as, "'", "''"))
		from += fmt.Sprintf(" LEFT JOIN %s e ON e.id = t.%s", ident(e.Table), ident(e.ForeignKey))
	}

	where, args := whereClause("t", q.Filter, nil)
	sql := "SELECT " + proj + " FROM " + from + where
	if q.Single {
		sql += " LIMIT 2"
	}
	return sql, args
}

func buildInsert(table string, row types.Row) (string, []any) {
	if len(row) == 0 {
		return fmt.Sprintf("INSERT INTO %s AS t DEFAULT VALUES RETURNING to_jsonb(t)", ident(table)), nil
	}
	keys := sortedKeys(row)
	cols := make([]string, len(keys))
	ph := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = ident(k)
		ph[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[k]
	}
	return fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) RETURNING to_jsonb(t)",
		ident(table), strings.Join(cols, ", "), strings.Join(ph, ", ")), args
}

func buildDelete(table string, filter repository.Filter) (string, []any) {
	where, args := whereClause("", filter, nil)
	return "DELETE FROM " + ident(table) + where, args
}

// mapError traduce errores de pgx al conjunto cerrado de StoreErrorKind.
func mapError(table string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return repository.NewStoreError(table, pgErr.Code, pgErr.Message, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &repository.StoreError{Kind: repository.KindNoRows, Table: table, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return &repository.StoreError{Kind: repository.KindTimeout, Table: table, Err: err}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return &repository.StoreError{Kind: repository.KindUnavailable, Table: table, Err: err}
	}
	return &repository.StoreError{Kind: repository.KindOther, Table: table, Err: err}
}

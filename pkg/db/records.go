package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
)

// ErrNotFound is returned when an update matches no rows.
var ErrNotFound = errors.New("record not found")

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Records is a table-agnostic record store: insert, update and select rows as maps.
type Records struct {
	db DB
}

func NewRecords(db DB) *Records {
	return &Records{db: db}
}

// Insert writes row into table and returns the stored row, defaults included.
func (r *Records) Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error) {
	if err := checkIdentifiers(table, row); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("insert into %s: empty row", table)
	}

	query, args, err := squirrel.Insert(table).
		SetMap(row).
		Suffix("RETURNING *").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert query: %w", err)
	}

	var out map[string]any
	if err := pgxscan.Get(ctx, r.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return out, nil
}

// Update applies patch to the rows matching filter and returns the first updated row.
// An empty filter is rejected.
func (r *Records) Update(ctx context.Context, table string, filter, patch map[string]any) (map[string]any, error) {
	if err := checkIdentifiers(table, filter); err != nil {
		return nil, err
	}
	if err := checkIdentifiers(table, patch); err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return nil, fmt.Errorf("update %s: filter is required", table)
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("update %s: empty patch", table)
	}

	query, args, err := squirrel.Update(table).
		SetMap(patch).
		Where(squirrel.Eq(filter)).
		Suffix("RETURNING *").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update query: %w", err)
	}

	var rows []map[string]any
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// Select returns all rows of table matching filter. A nil filter selects everything.
func (r *Records) Select(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error) {
	if err := checkIdentifiers(table, filter); err != nil {
		return nil, err
	}

	sb := squirrel.Select("*").From(table).PlaceholderFormat(squirrel.Dollar)
	if len(filter) > 0 {
		sb = sb.Where(squirrel.Eq(filter))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var rows []map[string]any
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return rows, nil
}

func checkIdentifiers(table string, columns map[string]any) error {
	if !identifierPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	for col := range columns {
		if !identifierPattern.MatchString(col) {
			return fmt.Errorf("invalid column name %q", col)
		}
	}
	return nil
}

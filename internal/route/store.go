package route

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store is the durable source of truth for routes. The cache reads from it;
// the admin surface writes through it.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const routeColumns = "id, path, target_url, capacity, refill_rate_per_second, created_at_ms, updated_at_ms"

// Insert persists a new route. CreatedAt and UpdatedAt are set here; the
// caller's values are ignored. Returns ErrDuplicatePath when a route with
// the same path exists.
func (s *Store) Insert(ctx context.Context, r Route) (Route, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO routes (path, target_url, capacity, refill_rate_per_second, created_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Path, r.TargetURL, nullableInt(r.Capacity), nullableInt(r.RefillRatePerSecond),
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return Route{}, ErrDuplicatePath
		}
		return Route{}, fmt.Errorf("insert route %s: %w", r.Path, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Route{}, fmt.Errorf("insert route %s: last id: %w", r.Path, err)
	}
	r.ID = id
	r.CreatedAt = now
	r.UpdatedAt = now
	return r, nil
}

// FindAll returns every route ordered by id.
func (s *Store) FindAll(ctx context.Context) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+routeColumns+" FROM routes ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("find all routes: %w", err)
	}
	defer rows.Close()

	var routes []Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find all routes: %w", err)
	}
	return routes, nil
}

// FindByID returns the route with the given id or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id int64) (Route, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+routeColumns+" FROM routes WHERE id = ?", id)
	return scanOne(row)
}

// FindByPath returns the route whose path exactly matches or ErrNotFound.
func (s *Store) FindByPath(ctx context.Context, path string) (Route, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+routeColumns+" FROM routes WHERE path = ?", path)
	return scanOne(row)
}

// Update replaces the mutable fields of an existing route and bumps
// UpdatedAt. CreatedAt never changes. Returns the updated record,
// ErrNotFound for an unknown id, or ErrDuplicatePath when the new path
// collides with another route.
func (s *Store) Update(ctx context.Context, id int64, r Route) (Route, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE routes
		 SET path = ?, target_url = ?, capacity = ?, refill_rate_per_second = ?, updated_at_ms = ?
		 WHERE id = ?`,
		r.Path, r.TargetURL, nullableInt(r.Capacity), nullableInt(r.RefillRatePerSecond),
		now.UnixMilli(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return Route{}, ErrDuplicatePath
		}
		return Route{}, fmt.Errorf("update route %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Route{}, fmt.Errorf("update route %d: rows affected: %w", id, err)
	}
	if affected == 0 {
		return Route{}, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

// Delete removes a route. The boolean reports whether it existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM routes WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete route %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete route %d: rows affected: %w", id, err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (Route, error) {
	r, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Route{}, ErrNotFound
	}
	return r, err
}

func scanRoute(row rowScanner) (Route, error) {
	var r Route
	var capacity, refill sql.NullInt64
	var createdMs, updatedMs int64
	if err := row.Scan(&r.ID, &r.Path, &r.TargetURL, &capacity, &refill, &createdMs, &updatedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Route{}, err
		}
		return Route{}, fmt.Errorf("scan route: %w", err)
	}
	if capacity.Valid {
		v := int(capacity.Int64)
		r.Capacity = &v
	}
	if refill.Valid {
		v := int(refill.Int64)
		r.RefillRatePerSecond = &v
	}
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	r.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return r, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

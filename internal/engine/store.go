package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors returned by store operations. Callers match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrGuardFailed       = errors.New("transition guard failed")
	ErrValidation        = errors.New("validation error")
)

// Store is the schema-driven persistence layer. Every resource declared in
// Schema() gets the same CRUD surface and, when a state machine is declared,
// guarded transitions that surface the OnEnter command to dispatch.
type Store struct {
	db      *sqlx.DB
	byName  map[string]*Resource
	defined []Resource
}

// NewStore wraps an already-migrated database. Use OpenDB for the full
// open-migrate-wrap path.
func NewStore(db *sqlx.DB, resources []Resource) (*Store, error) {
	byName := make(map[string]*Resource, len(resources))
	defined := make([]Resource, len(resources))
	copy(defined, resources)
	for i := range defined {
		byName[defined[i].Name] = &defined[i]
	}
	return &Store{db: db, byName: byName, defined: defined}, nil
}

// DB exposes the underlying connection for readiness probes and raw access.
func (s *Store) DB() *sqlx.DB { return s.db }

// Resource looks up a resource definition by table name.
func (s *Store) Resource(name string) *Resource { return s.byName[name] }

// Resources returns all resource definitions in declaration order.
func (s *Store) Resources() []Resource { return s.defined }

func (s *Store) Close() error { return s.db.Close() }

// =============================================================================
// Pagination and filtering
// =============================================================================

type Page struct {
	Limit  int
	Offset int
}

func DefaultPage() Page {
	return Page{Limit: 100}
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type Filter struct {
	Field string
	Value any
}

// =============================================================================
// CRUD
// =============================================================================

// Create inserts a row: assigns the reference_id, fills defaults and computed
// fields, seeds the state machine's initial state, and validates before writing.
func (s *Store) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	res, err := s.lookup(resource)
	if err != nil {
		return nil, err
	}

	if res.RefPrefix != "" {
		data["reference_id"] = res.RefPrefix + uuid.New().String()[:8]
	} else {
		data["reference_id"] = uuid.New().String()
	}

	for _, f := range res.Fields {
		if _, present := data[f.Name]; !present && f.DefaultValue != nil {
			data[f.Name] = f.DefaultValue
		}
	}
	for _, f := range res.Fields {
		if f.Computed != nil {
			data[f.Name] = f.Computed(data)
		}
	}
	if sm := res.StateMachine; sm != nil {
		if _, present := data[sm.Field]; !present {
			data[sm.Field] = sm.Initial
		}
	}

	if err := checkFields(res, data); err != nil {
		return nil, err
	}
	if err := encodeJSONFields(res, data); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	data["created_at"] = now
	data["updated_at"] = now

	cols := []string{"reference_id"}
	for _, f := range res.Fields {
		if _, present := data[f.Name]; present {
			cols = append(cols, f.Name)
		}
	}
	cols = append(cols, "created_at", "updated_at")

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (", resource, strings.Join(cols, ", "))
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(":" + c)
	}
	b.WriteString(")")

	result, err := s.db.NamedExecContext(ctx, b.String(), data)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", resource, err)
	}
	id, _ := result.LastInsertId()
	data["id"] = id
	return data, nil
}

// Get retrieves a row by reference_id.
func (s *Store) Get(ctx context.Context, resource string, refID string) (map[string]any, error) {
	res, err := s.lookup(resource)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, res, "reference_id", refID)
}

// GetByID retrieves a row by its integer primary key.
func (s *Store) GetByID(ctx context.Context, resource string, id int) (map[string]any, error) {
	res, err := s.lookup(resource)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, res, "id", id)
}

// GetByField retrieves a row by an arbitrary column value. The column must be
// unique for the result to be deterministic.
func (s *Store) GetByField(ctx context.Context, resource, field string, value any) (map[string]any, error) {
	res, err := s.lookup(resource)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, res, field, value)
}

// List retrieves rows matching the filters, newest first.
func (s *Store) List(ctx context.Context, resource string, filters []Filter, page Page) ([]map[string]any, error) {
	res, err := s.lookup(resource)
	if err != nil {
		return nil, err
	}
	page = page.Normalize()

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columnList(res), resource)
	args := make([]any, 0, len(filters))
	for i, f := range filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(f.Field + " = ?")
		args = append(args, f.Value)
	}
	fmt.Fprintf(&b, " ORDER BY id DESC LIMIT %d OFFSET %d", page.Limit, page.Offset)

	rows, err := s.db.QueryxContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resource, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", resource, err)
		}
		normalizeRow(res, row)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Update writes the given fields to a row by reference_id. Identity and
// creation columns are silently stripped.
func (s *Store) Update(ctx context.Context, resource string, refID string, data map[string]any) (map[string]any, error) {
	res, err := s.lookup(resource)
	if err != nil {
		return nil, err
	}

	delete(data, "id")
	delete(data, "reference_id")
	delete(data, "created_at")
	data["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := encodeJSONFields(res, data); err != nil {
		return nil, err
	}

	sets := make([]string, 0, len(data))
	args := make([]any, 0, len(data)+1)
	for col, val := range data {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	args = append(args, refID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE reference_id = ?", resource, strings.Join(sets, ", "))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", resource, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%s %s: %w", resource, refID, ErrNotFound)
	}
	return s.Get(ctx, resource, refID)
}

// Delete removes a row by reference_id.
func (s *Store) Delete(ctx context.Context, resource string, refID string) error {
	if _, err := s.lookup(resource); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE reference_id = ?", resource), refID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", resource, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", resource, refID, ErrNotFound)
	}
	return nil
}

// =============================================================================
// Transitions
// =============================================================================

// Transition moves a row's state machine to toState after checking the edge
// and running its guard. It returns the updated row and the OnEnter command
// name registered for the new state, empty when the state has no handler.
func (s *Store) Transition(ctx context.Context, resource string, refID string, toState string) (map[string]any, string, error) {
	res, err := s.lookup(resource)
	if err != nil {
		return nil, "", err
	}
	sm := res.StateMachine
	if sm == nil {
		return nil, "", fmt.Errorf("resource %s has no state machine", resource)
	}

	row, err := s.Get(ctx, resource, refID)
	if err != nil {
		return nil, "", err
	}
	fromState := strVal(row[sm.Field])

	if !sm.CanTransition(fromState, toState) {
		return nil, "", fmt.Errorf("%w: %s → %s", ErrInvalidTransition, fromState, toState)
	}
	if guard, ok := sm.Guards[toState]; ok {
		if err := guard(row); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrGuardFailed, err)
		}
	}

	updated, err := s.Update(ctx, resource, refID, map[string]any{sm.Field: toState})
	if err != nil {
		return nil, "", err
	}
	return updated, sm.OnEnter[toState], nil
}

// =============================================================================
// Raw access
// =============================================================================

// RawQuery runs an arbitrary query and returns the rows as maps. Used for the
// release_events audit table, which is not a schema-driven resource.
func (s *Store) RawQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// RawExec runs an arbitrary statement.
func (s *Store) RawExec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// Internals
// =============================================================================

func (s *Store) lookup(resource string) (*Resource, error) {
	res, ok := s.byName[resource]
	if !ok {
		return nil, fmt.Errorf("unknown resource: %s", resource)
	}
	return res, nil
}

func (s *Store) queryOne(ctx context.Context, res *Resource, column string, value any) (map[string]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", columnList(res), res.Name, column)
	row := make(map[string]any)
	if err := s.db.QueryRowxContext(ctx, query, value).MapScan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s=%v: %w", res.Name, column, value, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", res.Name, err)
	}
	normalizeRow(res, row)
	return row, nil
}

func columnList(res *Resource) string {
	cols := make([]string, 0, len(res.Fields)+4)
	cols = append(cols, "id", "reference_id")
	for _, f := range res.Fields {
		cols = append(cols, f.Name)
	}
	cols = append(cols, "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

// encodeJSONFields serializes values bound for JSON columns. Strings are
// assumed to already be JSON and pass through.
func encodeJSONFields(res *Resource, data map[string]any) error {
	for _, f := range res.Fields {
		if f.Type != TypeJSON {
			continue
		}
		v, ok := data[f.Name]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
		case []byte:
			data[f.Name] = string(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", f.Name, err)
			}
			data[f.Name] = string(b)
		}
	}
	return nil
}

// normalizeRow converts driver types into the shapes the rest of the engine
// expects: []byte to string, 0/1 to bool, JSON text to parsed values, and
// timestamp text to time.Time.
func normalizeRow(res *Resource, row map[string]any) {
	for key, val := range row {
		if b, ok := val.([]byte); ok {
			row[key] = string(b)
		}
	}

	for _, f := range res.Fields {
		switch f.Type {
		case TypeBool:
			switch v := row[f.Name].(type) {
			case int64:
				row[f.Name] = v != 0
			case int:
				row[f.Name] = v != 0
			case float64:
				row[f.Name] = v != 0
			}
		case TypeJSON:
			if str, ok := row[f.Name].(string); ok && str != "" {
				var parsed any
				if json.Unmarshal([]byte(str), &parsed) == nil {
					row[f.Name] = parsed
				}
			}
		case TypeTimestamp:
			if str, ok := row[f.Name].(string); ok && str != "" {
				if t, ok := parseTimestamp(str); ok {
					row[f.Name] = t
				}
			}
		}
	}

	for _, name := range []string{"created_at", "updated_at"} {
		if str, ok := row[name].(string); ok {
			if t, ok := parseTimestamp(str); ok {
				row[name] = t
			}
		}
	}
}

// parseTimestamp accepts both RFC3339 (what the store writes) and SQLite's
// bare datetime format (what hand-written migrations may produce).
func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func checkFields(res *Resource, data map[string]any) error {
	for _, f := range res.Fields {
		v, present := data[f.Name]

		if f.Required && (!present || v == nil || v == "") {
			return fmt.Errorf("%w: %s is required", ErrValidation, f.Name)
		}
		if !present || v == nil {
			continue
		}

		if str, ok := v.(string); ok {
			if f.MinLen != nil && len(str) < *f.MinLen {
				return fmt.Errorf("%w: %s must be at least %d characters", ErrValidation, f.Name, *f.MinLen)
			}
			if f.MaxLen != nil && len(str) > *f.MaxLen {
				return fmt.Errorf("%w: %s must be at most %d characters", ErrValidation, f.Name, *f.MaxLen)
			}
			if f.Pattern != nil && !f.Pattern.MatchString(str) {
				return fmt.Errorf("%w: %s has invalid format", ErrValidation, f.Name)
			}
		}

		if f.MinInt != nil {
			if n, ok := asInt64(v); ok && n < *f.MinInt {
				return fmt.Errorf("%w: %s must be >= %d", ErrValidation, f.Name, *f.MinInt)
			}
		}
		if f.MaxInt != nil {
			if n, ok := asInt64(v); ok && n > *f.MaxInt {
				return fmt.Errorf("%w: %s must be <= %d", ErrValidation, f.Name, *f.MaxInt)
			}
		}
	}
	return nil
}

// strVal coerces string-ish values, including the []byte the sqlite driver
// hands back for text columns.
func strVal(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	}
	return ""
}

func asInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Package engine is the schema-driven core of convoy. Resources are declared
// as data (fields, constraints, state machines) and the engine derives the
// rest: sqlite tables, CRUD, REST handlers, and guarded transitions whose
// OnEnter commands drive the orchestration pipelines.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// FieldType maps a declared field onto a sqlite column type.
type FieldType int

const (
	TypeString    FieldType = iota // TEXT
	TypeText                       // TEXT, large bodies (compose specs, changelogs)
	TypeInt                        // INTEGER
	TypeBool                       // INTEGER 0/1
	TypeJSON                       // TEXT holding JSON
	TypeTimestamp                  // DATETIME
	TypeSoftRef                    // TEXT holding another resource's reference_id
)

// SQLType returns the sqlite column type for the field type.
func (ft FieldType) SQLType() string {
	switch ft {
	case TypeInt, TypeBool:
		return "INTEGER"
	case TypeTimestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// Field declares one column of a resource.
type Field struct {
	Name         string
	Type         FieldType
	Required     bool
	Unique       bool
	Nullable     bool
	DefaultValue any
	MinInt       *int64
	MaxInt       *int64
	MinLen       *int
	MaxLen       *int
	Pattern      *regexp.Regexp
	RefTable     string // TypeSoftRef target table
	Computed     func(row map[string]any) any
}

func StringField(name string) Field    { return Field{Name: name, Type: TypeString} }
func TextField(name string) Field      { return Field{Name: name, Type: TypeText} }
func IntField(name string) Field       { return Field{Name: name, Type: TypeInt} }
func BoolField(name string) Field      { return Field{Name: name, Type: TypeBool} }
func JSONField(name string) Field      { return Field{Name: name, Type: TypeJSON, Nullable: true} }
func TimestampField(name string) Field { return Field{Name: name, Type: TypeTimestamp, Nullable: true} }

func SoftRefField(name, table string) Field {
	return Field{Name: name, Type: TypeSoftRef, RefTable: table, Nullable: true}
}

// The With* builders return modified copies so declarations chain.

func (f Field) WithRequired() Field      { f.Required = true; return f }
func (f Field) WithUnique() Field        { f.Unique = true; return f }
func (f Field) WithNullable() Field      { f.Nullable = true; return f }
func (f Field) WithDefault(v any) Field  { f.DefaultValue = v; return f }
func (f Field) WithMin(n int64) Field    { f.MinInt = &n; return f }
func (f Field) WithMax(n int64) Field    { f.MaxInt = &n; return f }
func (f Field) WithMinLen(n int) Field   { f.MinLen = &n; return f }
func (f Field) WithMaxLen(n int) Field   { f.MaxLen = &n; return f }

func (f Field) WithPattern(pattern string) Field {
	f.Pattern = regexp.MustCompile(pattern)
	return f
}

func (f Field) WithComputed(fn func(row map[string]any) any) Field {
	f.Computed = fn
	return f
}

// GuardFunc vets a transition against the current row before it happens.
type GuardFunc func(row map[string]any) error

// RequireField guards a transition on a field being populated.
func RequireField(name string) GuardFunc {
	return func(row map[string]any) error {
		v, ok := row[name]
		if !ok || v == nil || v == "" || v == 0 {
			return fmt.Errorf("%s is required for this transition", name)
		}
		return nil
	}
}

// StateMachine declares the lifecycle of a resource on one string column.
// OnEnter names the command the bus dispatches when a row enters a state;
// states without an entry are terminal or passive.
type StateMachine struct {
	Field       string
	Initial     string
	Transitions map[string][]string
	Guards      map[string]GuardFunc
	OnEnter     map[string]string
}

// CanTransition reports whether the edge from → to is declared.
func (sm *StateMachine) CanTransition(from, to string) bool {
	for _, s := range sm.Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BeforeCreateFunc may adjust incoming data before a row is created.
type BeforeCreateFunc func(ctx context.Context, data map[string]any) error

// BeforeDeleteFunc may veto deletion of a row.
type BeforeDeleteFunc func(ctx context.Context, row map[string]any) error

// Resource is one declared entity: a table, its fields, and its lifecycle.
type Resource struct {
	Name         string // table name
	RefPrefix    string // reference_id prefix, e.g. "rel_"
	Fields       []Field
	StateMachine *StateMachine

	BeforeCreate BeforeCreateFunc
	BeforeDelete BeforeDeleteFunc
}

// GenerateCreateSQL renders the CREATE TABLE (and index) statements for the
// resource. Soft references get a plain index; integrity across resources is
// the engine's job, not sqlite's, since rows link by reference_id.
func (r *Resource) GenerateCreateSQL() string {
	cols := []string{
		"id INTEGER PRIMARY KEY AUTOINCREMENT",
		"reference_id TEXT UNIQUE NOT NULL",
	}

	for _, f := range r.Fields {
		col := f.Name + " " + f.Type.SQLType()
		if !f.Nullable && f.DefaultValue == nil && f.Type != TypeJSON {
			col += " NOT NULL"
		}
		if f.Unique {
			col += " UNIQUE"
		}
		if f.DefaultValue != nil {
			col += " DEFAULT " + sqlLiteral(f.DefaultValue)
		}
		cols = append(cols, col)
	}

	cols = append(cols,
		"created_at DATETIME NOT NULL DEFAULT (datetime('now'))",
		"updated_at DATETIME NOT NULL DEFAULT (datetime('now'))",
	)

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", r.Name, strings.Join(cols, ",\n  "))

	for _, f := range r.Fields {
		if f.Type == TypeSoftRef {
			stmt += fmt.Sprintf(";\nCREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)",
				r.Name, f.Name, r.Name, f.Name)
		}
	}
	return stmt
}

func sqlLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + val + "'"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int, int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%f", val)
	default:
		return fmt.Sprintf("'%v'", val)
	}
}

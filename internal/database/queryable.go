package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Queryable is the set of sqlx methods shared by both a *sqlx.DB and
// a *sqlx.Tx. Stores accept a Queryable so that callers can decide
// whether a query runs inside of a transaction.
type Queryable interface {
	sqlx.Queryer
	sqlx.Execer
	Get(dest any, query string, args ...any) error
	Select(dest any, query string, args ...any) error
	NamedExec(query string, arg any) (sql.Result, error)
	Rebind(query string) string
}

// JsonColumn is a container for a column which is stored (or aggregated)
// as JSON in the database, and should be decoded in to T when scanned.
type JsonColumn[T any] struct {
	val T
}

func NewJsonColumn[T any](v T) JsonColumn[T] { return JsonColumn[T]{val: v} }

func (j *JsonColumn[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	return json.Unmarshal(raw, &j.val)
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	return json.Marshal(j.val)
}

func (j *JsonColumn[T]) Get() T { return j.val }

// IsNotFound returns true if the error provided indicates that a
// single-row query found no results.
func IsNotFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }

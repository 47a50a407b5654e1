package docdb

import (
	"errors"
	"fmt"
	"strings"
)

// DataError wraps a decode failure with the offending bytes and offset,
// following the teacher's edb.DataError: truncate long payloads in the
// message instead of dumping megabytes into a log line.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		}
		return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
	}
	return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
}

// CollectionError wraps a failure with the collection/index/key it
// pertains to, following the teacher's edb.TableError idiom.
type CollectionError struct {
	Collection string
	Index      string
	Key        []byte
	Msg        string
	Err        error
}

func collErrf(coll, idx string, key []byte, err error, format string, args ...any) error {
	return &CollectionError{coll, idx, key, fmt.Sprintf(format, args...), err}
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

func (e *CollectionError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Collection)
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		fmt.Fprintf(&buf, "%x", e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// BadNameError is returned when a collection name contains '.'.
type BadNameError struct {
	Name string
}

func (e *BadNameError) Error() string {
	return fmt.Sprintf("docdb: collection name %q must not contain '.'", e.Name)
}

// NoIndexError is returned when a codec declares zero ordered indices.
type NoIndexError struct {
	Collection string
}

func (e *NoIndexError) Error() string {
	return fmt.Sprintf("docdb: %s: codec declared no ordered indices", e.Collection)
}

// NonUniquePrimaryError is returned when the first declared ordered
// index is not marked unique.
type NonUniquePrimaryError struct {
	Collection string
	Index      string
}

func (e *NonUniquePrimaryError) Error() string {
	return fmt.Sprintf("docdb: %s: primary index %q must be unique", e.Collection, e.Index)
}

// DuplicateIndexNameError is returned when two indices (ordered or
// spatial) of the same collection share a name.
type DuplicateIndexNameError struct {
	Collection string
	Index      string
}

func (e *DuplicateIndexNameError) Error() string {
	return fmt.Sprintf("docdb: %s: duplicate index name %q", e.Collection, e.Index)
}

// DuplicateError is returned when insert/update violates a unique
// index.
type DuplicateError struct {
	Collection string
	Index      string
	Key        []byte
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("docdb: %s.%s: duplicate key %x", e.Collection, e.Index, e.Key)
}

// UnknownIndexError is returned when query/delete/count/containedBy
// names a non-existent index.
type UnknownIndexError struct {
	Collection string
	Index      string
}

func (e *UnknownIndexError) Error() string {
	return fmt.Sprintf("docdb: %s: unknown index %q", e.Collection, e.Index)
}

// BadStrideError is returned when a cursor is constructed with
// stride <= 0.
type BadStrideError struct {
	Stride int
}

func (e *BadStrideError) Error() string {
	return fmt.Sprintf("docdb: invalid cursor stride %d, must be >= 1", e.Stride)
}

// ErrNoSuchElement is returned by Collection.Read when no document has
// the requested primary key. Cursor.Next reports exhaustion by
// returning false instead.
var ErrNoSuchElement = errors.New("docdb: no such element")

// OpenTransactionsError is returned by Store.Close when transactions
// are still outstanding.
type OpenTransactionsError struct {
	Count int
	Detail string
}

func (e *OpenTransactionsError) Error() string {
	return fmt.Sprintf("docdb: close attempted with %d open transaction(s):\n%s", e.Count, e.Detail)
}

// BackendFailure wraps any error surfaced by the underlying KVBackend.
type BackendFailure struct {
	Op  string
	Err error
}

func (e *BackendFailure) Error() string {
	return fmt.Sprintf("docdb: backend failure during %s: %v", e.Op, e.Err)
}

func (e *BackendFailure) Unwrap() error {
	return e.Err
}

func backendErrf(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendFailure{Op: op, Err: err}
}

// Package provenance implements the append-only operation log carried by
// every table. Records are immutable once appended, and logs are copied
// forward rather than aliased so that chains branching from a common
// ancestor never see each other's history.
package provenance

import (
	"fmt"
	"strings"
	"time"
)

// Op identifies the kind of operation a record describes.
type Op string

const (
	OpValidate Op = "validate"
	OpDerive   Op = "derive"
	OpCast     Op = "cast"
	OpLookup   Op = "lookup"
	OpProfile  Op = "profile"
)

// Record describes one successfully applied operation. A record is created
// once and never mutated after it has been appended to a Log.
//
// Detail carries operation-specific payload (e.g. the unmatched-row count of
// a lookup). Its contents must be deterministic for identical inputs:
// replaying the same chain from the same table must reproduce identical
// records except for Timestamp.
type Record struct {
	Op        Op
	Timestamp time.Time
	Inputs    []string
	Outputs   []string
	Detail    map[string]string
}

// NewRecord builds a record stamped with the current time. Inputs and
// outputs are copied so later mutation by the caller cannot reach into an
// appended record.
func NewRecord(op Op, inputs, outputs []string, detail map[string]string) Record {
	r := Record{
		Op:        op,
		Timestamp: time.Now().UTC(),
		Inputs:    append([]string(nil), inputs...),
		Outputs:   append([]string(nil), outputs...),
	}
	if len(detail) > 0 {
		r.Detail = make(map[string]string, len(detail))
		for k, v := range detail {
			r.Detail[k] = v
		}
	}
	return r
}

// String renders a one-line human-readable form, used in log output.
func (r Record) String() string {
	return fmt.Sprintf("%s inputs=[%s] outputs=[%s]",
		r.Op, strings.Join(r.Inputs, ","), strings.Join(r.Outputs, ","))
}

// Log is an ordered sequence of records. The zero value is an empty log.
//
// A Log value is treated as immutable: Append returns a fresh slice backed
// by new storage instead of growing the receiver in place, so two tables
// holding logs that share an ancestor can never corrupt one another.
type Log []Record

// Append returns a new log consisting of the receiver's records followed by
// rec. The receiver is left untouched.
func (l Log) Append(rec Record) Log {
	out := make(Log, len(l), len(l)+1)
	copy(out, l)
	return append(out, rec)
}

// Clone returns an independent copy of the log. Used when a table is
// copied forward into a new table.
func (l Log) Clone() Log {
	if l == nil {
		return nil
	}
	out := make(Log, len(l))
	copy(out, l)
	return out
}

// Last returns the most recent record, or false when the log is empty.
func (l Log) Last() (Record, bool) {
	if len(l) == 0 {
		return Record{}, false
	}
	return l[len(l)-1], true
}

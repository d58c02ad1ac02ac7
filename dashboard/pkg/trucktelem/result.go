package trucktelem

import "context"

// Executor runs a query against the time-series store. It is the only
// long-lived dependency of the core.
type Executor interface {
	Execute(ctx context.Context, q Query) (Result, error)
}

// Table is one raw result table as returned by the store, column name to value.
type Table []map[string]any

type ResultKind int

const (
	ResultEmpty ResultKind = iota
	ResultSingle
	ResultMany
)

func (k ResultKind) String() string {
	switch k {
	case ResultSingle:
		return "single"
	case ResultMany:
		return "many"
	default:
		return "empty"
	}
}

// Result is the raw store response: nothing, one table, or several tables
// that the store split apart (for example one per field).
type Result struct {
	kind   ResultKind
	tables []Table
}

func EmptyResult() Result {
	return Result{kind: ResultEmpty}
}

func SingleResult(t Table) Result {
	return Result{kind: ResultSingle, tables: []Table{t}}
}

func ManyResult(tables ...Table) Result {
	if len(tables) == 0 {
		return EmptyResult()
	}
	return Result{kind: ResultMany, tables: tables}
}

func (r Result) Kind() ResultKind {
	return r.kind
}

func (r Result) Tables() []Table {
	return r.tables
}

// RowCount is the total number of raw rows across all tables.
func (r Result) RowCount() int {
	n := 0
	for _, t := range r.tables {
		n += len(t)
	}
	return n
}

// ResultFromTables maps per-statement tables onto the result variant: a lone
// statement is empty or single, several statements are many.
func ResultFromTables(tables []Table) Result {
	switch len(tables) {
	case 0:
		return EmptyResult()
	case 1:
		if len(tables[0]) == 0 {
			return EmptyResult()
		}
		return SingleResult(tables[0])
	default:
		return ManyResult(tables...)
	}
}

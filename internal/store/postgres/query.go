package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// query accumulates a SELECT with positional arguments.
type query struct {
	sb   strings.Builder
	args []any
}

func newQuery(base string, args ...any) *query {
	q := &query{args: args}
	q.sb.WriteString(base)
	return q
}

// arg appends v and returns its placeholder.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *query) where(cond string, v any) {
	q.sb.WriteString(" AND ")
	q.sb.WriteString(fmt.Sprintf(cond, q.arg(v)))
}

// window applies opts' time bounds to col, then the ordering and paging.
func (q *query) window(opts domain.ListOpts, col, orderBy string) {
	if opts.Since != nil {
		q.where(col+" >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.where(col+" <= %s", *opts.Until)
	}
	q.sb.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
}

func (q *query) String() string { return q.sb.String() }

package postgres

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// withListOpts appends time-range filters on timeCol, the given ordering and
// pagination to query. args holds the arguments already bound by query.
func withListOpts(query string, args []any, opts domain.ListOpts, timeCol, orderBy string) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + orderBy

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// Amounts are bound as text and cast to NUMERIC in SQL, and selected back
// with ::text.

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse amount %q: %w", s, err)
	}
	return v, nil
}

package postgres

import (
	"fmt"
	"math/big"
)

// Base-unit amounts are persisted as NUMERIC(78,0) and moved across the wire
// as decimal strings. Columns are cast with ::text on SELECT and parsed here;
// on INSERT the string form is passed and Postgres coerces it to NUMERIC.

// numericText renders v for a NUMERIC parameter. Nil is stored as zero.
func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// bigFromText parses a NUMERIC column selected as text.
func bigFromText(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}

// Package domain defines the core value types and the interfaces that the
// optflow service is built around: option contracts, market quotes, trades,
// implied-volatility observations, fitted smile slices, and the store/cache
// boundaries implemented by the postgres, redis, and s3 packages.
package domain

import (
	"fmt"
	"time"
)

// Right distinguishes calls from puts.
type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// IsValid reports whether r is one of the two known option rights.
func (r Right) IsValid() bool {
	return r == RightCall || r == RightPut
}

// Contract identifies a single listed option: underlying root symbol,
// expiration date in YYYYMMDD form, strike in dollars, and right.
type Contract struct {
	Root       string
	Expiration string // YYYYMMDD
	Strike     float64
	Right      Right
}

// Key returns the canonical buffer/history key for the contract.
func (c Contract) Key() string {
	return fmt.Sprintf("%s:%s:%.3f:%s", c.Root, c.Expiration, c.Strike, c.Right)
}

// ExpiryDate parses the contract's expiration label into a calendar date.
func (c Contract) ExpiryDate() (time.Time, error) {
	t, err := time.Parse("20060102", c.Expiration)
	if err != nil {
		return time.Time{}, fmt.Errorf("domain: parse expiration %q: %w", c.Expiration, err)
	}
	return t, nil
}

// Validate checks that all contract fields are populated and well-formed.
func (c Contract) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("domain: contract missing root")
	}
	if !c.Right.IsValid() {
		return fmt.Errorf("domain: contract %s has invalid right %q", c.Root, c.Right)
	}
	if c.Strike <= 0 {
		return fmt.Errorf("domain: contract %s has non-positive strike %f", c.Root, c.Strike)
	}
	if _, err := c.ExpiryDate(); err != nil {
		return err
	}
	return nil
}

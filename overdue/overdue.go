// Package overdue decides whether an open transaction has been out too long.
// Every view that shows an overdue badge or filters on it goes through this package
// so there is exactly one definition.
package overdue

import "time"

// Threshold is how long a key may stay out before it is overdue.
const Threshold = 24 * time.Hour

// Is reports whether a transaction borrowed at borrowDate is overdue at now.
// A returned transaction is never overdue.
func Is(borrowDate time.Time, returnDate *time.Time, now time.Time) bool {
	if returnDate != nil {
		return false
	}
	return now.Sub(borrowDate) > Threshold
}

// Cutoff is the latest borrow time that is still overdue at now; SQL filters use
// "borrow_date < cutoff".
func Cutoff(now time.Time) time.Time {
	return now.Add(-Threshold)
}

// Since returns how far past the threshold an open transaction is, or 0.
func Since(borrowDate time.Time, now time.Time) time.Duration {
	d := now.Sub(borrowDate) - Threshold
	if d < 0 {
		return 0
	}
	return d
}

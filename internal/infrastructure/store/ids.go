package store

import "github.com/oklog/ulid/v2"

// newID generates a ULID surrogate key. ulid.Make shares one monotonic
// source, so ids from this process sort in generation order.
func newID() string {
	return ulid.Make().String()
}

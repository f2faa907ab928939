package util

import (
	"github.com/oklog/ulid/v2"
)

// NewToken returns a fresh ULID. Dispatcher runs use it to tag the rows
// they claim and the lock they hold.
func NewToken() string {
	return ulid.Make().String()
}

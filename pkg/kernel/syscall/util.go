package syscall

import "time"

// nsToDuration converts a user-supplied nanosecond count (cloudabi_timestamp_t
// is an unsigned 64-bit nanosecond count) to a time.Duration.
func nsToDuration(ns uint64) time.Duration {
	return time.Duration(int64(ns))
}

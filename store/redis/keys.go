package redis

// Redis key naming conventions for archivist data.
// All keys are prefixed with "archivist:" to avoid collisions.

const keyPrefix = "archivist:"

// lockKey returns the hash key of a lock row: archivist:lock:{name}
func lockKey(name string) string { return keyPrefix + "lock:" + name }

// lockExpiryKey is the sorted set of lock names scored by expiry in
// unix microseconds.
const lockExpiryKey = keyPrefix + "lock_expiry"

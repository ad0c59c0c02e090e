// Package redis implements clusterlock.Store on Redis for deployments
// that keep lock rows out of the relational database. Each lock is a
// hash; a sorted set scored by expiry indexes rows for the expiration
// sweep. Every conditional write is a Lua script, so acquire, combine
// marking and reclaim are atomic on the server.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	locks := redis.New(client)
//	s := store.WithLocks(sqlStore, locks)
package redis

package redis

// Redis key naming conventions for docflow data.

const defaultKeyPrefix keyspace = "docflow:"

type keyspace string

// delivery returns the key marking an idempotency key as delivered:
// docflow:delivery:{key}
func (k keyspace) delivery(key string) string { return string(k) + "delivery:" + key }

// run returns the key of a cached run result: docflow:run:{id}
func (k keyspace) run(id string) string { return string(k) + "run:" + id }

// Package store holds the persistence boundary of the chat server.
//
// Credentials, message history and last-seen timestamps are reached through
// small interfaces so the server core never depends on a concrete datastore.
// Two backends are provided: MemoryStore for single-process deployments and
// tests, and RedisStore for durable, shared state. Open selects one from a
// datastore URL.
//
// Every datastore failure is returned wrapped with ErrPersistence.
package store

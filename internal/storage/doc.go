// Package storage persists the session token tuple.
//
// CredentialStore is the contract the session manager writes through.
// This package ships the durable implementation:
//
//   - KVEngine: narrow embedded key-value contract
//   - BadgerEngine: KVEngine on Badger v3 with background value-log GC
//   - KVStore: CredentialStore over any KVEngine, atomic counter in a txn
//   - Sealer: optional at-rest encryption (Argon2id/HKDF + AEAD)
//
// Sub-packages provide the in-memory (memory) and Redis (redisstore)
// backends.
package storage

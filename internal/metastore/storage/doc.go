// Package storage defines the persisted record types of the metadata store
// and the error sentinels shared by its implementations.
//
// Uniqueness and referential integrity are application-level contracts per
// record type, documented on each type, rather than engine-enforced foreign
// keys.
package storage

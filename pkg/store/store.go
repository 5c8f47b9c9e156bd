// Package store is the durable State Store component (spec.md §4.2): a
// strongly-consistent key-value store keyed by JobId, holding one Conversion
// Record per job, with idempotent writes and an operator-facing table
// bootstrap operation.
package store

import (
	"errors"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// ErrNotFound is returned by Get when no record exists for a JobId.
var ErrNotFound = errors.New("store: conversion record not found")

// Store is the durable key-value interface the Engine reads and writes
// through. Implementations must provide strongly-consistent reads: a Get
// immediately following a Put from the same process must observe that write.
type Store interface {
	// Get loads the Conversion Record for jobID, or ErrNotFound.
	Get(jobID string) (*types.ConversionRecord, error)

	// Put persists rec. When force is false, implementations should skip the
	// write if rec is unchanged from the currently stored value (idempotent
	// write, per spec.md §4.2.b) — callers may rely on this to avoid needless
	// version churn on a durable backend, but it is not load-bearing for
	// correctness; Put is safe to call unconditionally.
	Put(rec *types.ConversionRecord, force bool) error

	// Delete removes the record for jobID. Used by an operator-initiated
	// full restart, not by any step handler.
	Delete(jobID string) error

	// EnsureTable creates the backing table/bucket if it does not already
	// exist. Safe to call on every startup.
	EnsureTable() error

	// Close releases any resources held by the store.
	Close() error
}

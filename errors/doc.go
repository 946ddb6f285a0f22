// Package errors provides standardized error handling patterns for SyConn
// pipeline components.
//
// # Overview
//
// The errors package implements a three-class error classification system
// for large-batch graph processing: Transient (temporary, recovered
// locally), Invalid (bad input or misuse, non-recoverable for the call),
// and Fatal (unrecoverable, abort the run).
//
// This classification drives the pipeline's propagation policy: structural
// and input errors abort immediately since no partial partition derived
// from inconsistent input is trustworthy, while classifier and splitting
// soft issues are annotated on the affected objects and processing
// continues, preserving maximal partial output for inspection.
//
// # Error Classification
//
//   - Transient: classifier collaborator timeouts, storage briefly
//     unavailable. Recovered as neutral labels or skipped entries.
//   - Invalid: registry misuse (mutating a sealed registry), malformed
//     single values, bad configuration.
//   - Fatal: referentially broken input (ErrUnregisteredSupervoxel),
//     scores outside [0,1], a violated partition invariant, unresolved
//     glia identity at derivation time.
//
// The classification system integrates with Go's standard error handling,
// supporting errors.Is(), errors.As(), and error wrapping chains.
//
// # Quick Start
//
// Use standard error variables for known conditions:
//
//	if _, ok := reg.Supervoxel(id); !ok {
//	    return errors.ErrUnregisteredSupervoxel
//	}
//
// Wrap errors with component context:
//
//	if err := store.SaveSnapshot(ctx, snap); err != nil {
//	    return errors.WrapTransient(err, "Pipeline", "Run", "persist snapshot")
//	}
//
// Check classification to decide whether to abort:
//
//	if err := phase(); err != nil {
//	    if errors.IsFatal(err) {
//	        return err // abort the run
//	    }
//	    logger.Warn("soft failure", "error", err) // annotate and proceed
//	}
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// The generic Wrap() adds context without forcing a class, preserving the
// original error's classification through the chain.
//
// # Input Inconsistency
//
// IsInputInconsistency groups the sentinels that indicate malformed or
// referentially broken upstream data (unregistered ids, duplicate ids,
// out-of-range scores, negative quantities, self-contacts). Callers that
// need the coarse taxonomy of the pipeline contract can test this single
// predicate instead of enumerating sentinels.
package errors

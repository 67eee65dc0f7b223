package retrieval

import (
	"errors"
)

// Error taxonomy of the retrieval pipeline. Client errors are rejected before
// any I/O; transient store errors degrade the affected target and never
// propagate raw past the orchestrator boundary.
var (
	// ErrInvalidRequest marks a malformed request: empty query, bad target
	// identifier, missing scope, or conflicting routing fields. Raised by
	// the router before any store is touched.
	ErrInvalidRequest = errors.New("retrieval: invalid request")

	// ErrAccessDenied marks a target that does not belong to the requesting
	// scope. The message never states whether the artifact exists for a
	// different scope.
	ErrAccessDenied = errors.New("retrieval: access denied")

	// ErrAllTargetsFailed marks a request where every routed target errored
	// or timed out. Partial failures degrade the plan instead.
	ErrAllTargetsFailed = errors.New("retrieval: all targets failed")

	// ErrArtifactNotFound is returned by Catalog implementations when no
	// artifact matches. Scoped stores translate it to ErrAccessDenied so
	// callers cannot distinguish "missing" from "not yours".
	ErrArtifactNotFound = errors.New("retrieval: artifact not found")
)

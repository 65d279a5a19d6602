// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package event

import "time"

// DiagnosticKind is the error taxonomy from the error-handling design:
// every non-fatal failure in the pipeline is tagged with one of these
// so it can be counted and routed without ever propagating back into
// the ingress path.
type DiagnosticKind string

const (
	// Protocol: malformed upstream payload — event dropped, never fatal.
	Protocol DiagnosticKind = "protocol"
	// Transient: HTTP timeout/connection refused — retried with backoff.
	Transient DiagnosticKind = "transient"
	// Overload: SPSC injection queue full — injection dropped.
	Overload DiagnosticKind = "overload"
	// Liveness: ingress pipe timeout — diagnostic only.
	Liveness DiagnosticKind = "liveness"
	// Configuration: invalid startup config — fatal.
	Configuration DiagnosticKind = "configuration"
)

// Diagnostic is the single typed carrier for every non-fatal error and
// trace event in the pipeline.
type Diagnostic struct {
	Kind      DiagnosticKind
	Message   string
	BidID     string
	Err       error
	At        time.Time
	Raw       interface{}
}

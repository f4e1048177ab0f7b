// Package engine is the HTTP client for the execution engine. The front
// service owns identity and policy; the engine owns specifications,
// datasets and run state, addressed by per-app project IDs.
package engine

import (
	"encoding/json"
	"fmt"
)

// RunRequestParams is the run creation payload. Exactly one of
// Specification and SpecificationHash is non-null: fresh runs ship the
// full specification text, replays address a previously registered one
// by hash.
type RunRequestParams struct {
	RunType           string          `json:"run_type"`
	Specification     *string         `json:"specification"`
	SpecificationHash *string         `json:"specification_hash"`
	DatasetID         *string         `json:"dataset_id"`
	Inputs            json.RawMessage `json:"inputs"`
	Config            RunConfig       `json:"config"`
	Credentials       map[string]any  `json:"credentials"`
}

// RunConfig wraps the per-block execution config under the key the
// engine expects.
type RunConfig struct {
	Blocks json.RawMessage `json:"blocks"`
}

// RunStatus carries the overall run state plus per-block detail. The
// engine reports "running", "succeeded" or "errored".
type RunStatus struct {
	Run    string          `json:"run"`
	Blocks json.RawMessage `json:"blocks,omitempty"`
}

// Run is the engine's run object as returned by create and retrieval
// calls. Each traces entry is a two-element pair: the block address and
// that block's per-input execution outputs. The final block's outputs
// form the run results.
type Run struct {
	RunID         string              `json:"run_id"`
	CreatedAt     int64               `json:"created,omitempty"`
	RunType       string              `json:"run_type,omitempty"`
	AppHash       string              `json:"app_hash,omitempty"`
	Specification json.RawMessage     `json:"specification,omitempty"`
	Config        json.RawMessage     `json:"config,omitempty"`
	Status        RunStatus           `json:"status"`
	Traces        [][]json.RawMessage `json:"traces,omitempty"`
}

// DatasetVersion is one registered version of a named dataset. The
// engine lists versions newest first, so the head hash is element zero.
type DatasetVersion struct {
	Hash string `json:"hash"`
}

// UpstreamError is a structured engine failure: a non-2xx response whose
// body carried the engine's error envelope. Body is the raw error object
// so callers can forward it verbatim.
type UpstreamError struct {
	StatusCode int
	Type       string
	Message    string
	Body       json.RawMessage
}

func (e *UpstreamError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("engine: %s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("engine: unexpected status %d", e.StatusCode)
}

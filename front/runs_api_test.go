package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/engine"
	"github.com/loomworks/loom-go/internal/platform/auth"
)

func aliceApp(visibility domain.Visibility) domain.App {
	return domain.App{
		UID:        "uid-1",
		SID:        "app1234567",
		Name:       "demo",
		Visibility: visibility,
		ProjectID:  "13",
		UserID:     1,
	}
}

func asAlice(h *testHarness) {
	h.session.principal = auth.Principal{UserID: 1, Username: "alice", Origin: auth.OriginSession}
}

func runBody(t *testing.T, mode string, fields map[string]any) *bytes.Reader {
	t.Helper()
	payload := map[string]any{"mode": mode, "config": `{"MODEL":{"type":"llm"}}`}
	for k, v := range fields {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(raw)
}

func TestAnonymousGetPrivateAppNotFound(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPrivate))

	w := h.do(httptest.NewRequest("GET", "/api/apps/alice/app1234567", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := errorType(t, w); got != "app_not_found" {
		t.Fatalf("error type = %q, want app_not_found", got)
	}
}

func TestAnonymousGetPublicAppOK(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPublic))

	w := h.do(httptest.NewRequest("GET", "/api/apps/alice/app1234567", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	app := body["app"].(map[string]any)
	if app["sId"] != "app1234567" {
		t.Fatalf("unexpected app: %v", app)
	}
	if _, leaked := app["savedSpecification"]; leaked {
		t.Fatal("saved state must not be exposed to non-owners")
	}
}

func TestDesignRunPersistsSavedRun(t *testing.T) {
	h := newTestHarness(t)
	app := h.addApp(aliceApp(domain.VisibilityPrivate))
	asAlice(h)

	h.engine.createRun = func(params engine.RunRequestParams) (engine.Run, error) {
		if params.RunType != "local" {
			t.Errorf("run_type = %q, want local", params.RunType)
		}
		if params.Specification == nil || params.SpecificationHash != nil {
			t.Errorf("design with inline spec should ship specification only: %+v", params)
		}
		return engine.Run{RunID: "run-42", Status: engine.RunStatus{Run: "succeeded"}}, nil
	}

	spec := `[{"type":"llm","name":"MODEL","spec":{}}]`
	w := h.do(httptest.NewRequest("POST", "/api/apps/alice/app1234567/runs",
		runBody(t, "design", map[string]any{"specification": spec})))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if got := h.apps.savedRunID[app.ID]; got != "run-42" {
		t.Fatalf("savedRun = %q, want run-42", got)
	}
	if len(h.apps.savedRuns) != 1 {
		t.Fatalf("expected one saved-run update, got %d", len(h.apps.savedRuns))
	}
	update := h.apps.savedRuns[0]
	if update.Specification == nil || *update.Specification != spec {
		t.Fatalf("saved specification must be the caller's verbatim string: %v", update.Specification)
	}
	if update.Config != `{"MODEL":{"type":"llm"}}` {
		t.Fatalf("saved config must be the caller's verbatim string: %q", update.Config)
	}

	body := decodeBody(t, w)
	run := body["run"].(map[string]any)
	if run["run_id"] != "run-42" {
		t.Fatalf("unexpected run response: %v", run)
	}
}

func TestDesignRunByHashKeepsSavedSpecification(t *testing.T) {
	h := newTestHarness(t)
	app := aliceApp(domain.VisibilityPrivate)
	app.SavedSpecification = `[{"type":"llm","name":"MODEL","spec":{}}]`
	created := h.addApp(app)
	asAlice(h)

	h.engine.createRun = func(params engine.RunRequestParams) (engine.Run, error) {
		return engine.Run{RunID: "run-43", Status: engine.RunStatus{Run: "succeeded"}}, nil
	}

	w := h.do(httptest.NewRequest("POST", "/api/apps/alice/app1234567/runs",
		runBody(t, "design", map[string]any{"specificationHash": "deadbeef"})))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if len(h.apps.savedRuns) != 1 || h.apps.savedRuns[0].Specification != nil {
		t.Fatalf("hash-only design must not carry a specification: %+v", h.apps.savedRuns)
	}
	if h.apps.apps[0].SavedSpecification != app.SavedSpecification {
		t.Fatalf("saved specification was overwritten: %q", h.apps.apps[0].SavedSpecification)
	}
	if h.apps.savedRunID[created.ID] != "run-43" {
		t.Fatalf("savedRun = %q, want run-43", h.apps.savedRunID[created.ID])
	}
}

func TestCrossUserProgrammaticRunMismatch(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPublic))
	h.keyAuth.principal = auth.Principal{UserID: 2, Username: "bob", Origin: auth.OriginKey}

	w := h.do(httptest.NewRequest("POST", "/v1/apps/alice/app1234567/runs",
		runBody(t, "design", map[string]any{"specificationHash": "abc"})))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", w.Code, w.Body.String())
	}
	if got := errorType(t, w); got != "app_user_mismatch_error" {
		t.Fatalf("error type = %q, want app_user_mismatch_error", got)
	}
}

func TestRunWithoutSpecificationOrHashRejected(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPrivate))
	asAlice(h)

	w := h.do(httptest.NewRequest("POST", "/api/apps/alice/app1234567/runs",
		runBody(t, "design", nil)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestUnknownModeRejected(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPrivate))
	asAlice(h)

	w := h.do(httptest.NewRequest("POST", "/api/apps/alice/app1234567/runs",
		runBody(t, "deploy", map[string]any{"specificationHash": "abc"})))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestNonOwnerWebRunRejected(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPublic))
	h.session.principal = auth.Principal{UserID: 2, Username: "bob", Origin: auth.OriginSession}

	w := h.do(httptest.NewRequest("POST", "/api/apps/alice/app1234567/runs",
		runBody(t, "design", map[string]any{"specificationHash": "abc"})))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", w.Code, w.Body.String())
	}
}

func TestExecuteUpstreamErrorForwardedVerbatim(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPrivate))
	asAlice(h)

	h.engine.streamRun = func(context.Context, engine.RunRequestParams) (io.ReadCloser, error) {
		return nil, &engine.UpstreamError{
			StatusCode: http.StatusBadRequest,
			Type:       "invalid_inputs_error",
			Message:    "Inputs do not match the input block.",
			Body:       json.RawMessage(`{"type":"invalid_inputs_error","message":"Inputs do not match the input block."}`),
		}
	}

	w := h.do(httptest.NewRequest("POST", "/api/apps/alice/app1234567/runs",
		runBody(t, "execute", map[string]any{"specificationHash": "abc"})))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	errObj := body["error"].(map[string]any)
	if errObj["type"] != "invalid_inputs_error" || errObj["message"] != "Inputs do not match the input block." {
		t.Fatalf("upstream error must be forwarded verbatim: %v", errObj)
	}
}

func TestExecuteRelaysChunksInOrder(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPrivate))
	asAlice(h)

	chunks := []string{
		"data: {\"type\":\"status\",\"content\":{\"status\":\"running\"}}\n\n",
		"data: {\"type\":\"block_execution\"}\n\n",
		"data: {\"type\":\"final\"}\n\n",
	}
	h.engine.streamRun = func(context.Context, engine.RunRequestParams) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Join(chunks, ""))), nil
	}

	w := h.do(httptest.NewRequest("POST", "/api/apps/alice/app1234567/runs",
		runBody(t, "execute", map[string]any{"specificationHash": "abc"})))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	if got := w.Body.String(); got != strings.Join(chunks, "") {
		t.Fatalf("relayed stream mismatch:\n got %q\nwant %q", got, strings.Join(chunks, ""))
	}
	if !w.Flushed {
		t.Fatal("relay must flush chunks as they arrive")
	}
}

func TestGetRunRenamesHashAndComputesResults(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPublic))

	h.engine.getRun = func(runID string) (engine.Run, error) {
		if runID != "run-42" {
			t.Errorf("runID = %q, want run-42", runID)
		}
		return engine.Run{
			RunID:   "run-42",
			AppHash: "hash-9",
			Status:  engine.RunStatus{Run: "succeeded"},
			Traces: [][]json.RawMessage{
				{json.RawMessage(`["llm","MODEL"]`), json.RawMessage(`[[{"value":"first"}]]`)},
				{json.RawMessage(`["code","FINAL"]`), json.RawMessage(`[[{"value":"last"}]]`)},
			},
		}, nil
	}

	w := h.do(httptest.NewRequest("GET", "/api/apps/alice/app1234567/runs/run-42", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	run := body["run"].(map[string]any)
	if run["specification_hash"] != "hash-9" {
		t.Fatalf("app_hash must be renamed to specification_hash: %v", run)
	}
	if _, present := run["app_hash"]; present {
		t.Fatal("app_hash must not survive post-processing")
	}
	results, err := json.Marshal(run["results"])
	if err != nil {
		t.Fatal(err)
	}
	if string(results) != `[[{"value":"last"}]]` {
		t.Fatalf("results must be the last trace entry's outputs: %s", results)
	}
}

func TestGetErroredRunHasNullResults(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPublic))

	h.engine.getRun = func(string) (engine.Run, error) {
		return engine.Run{
			RunID:  "run-43",
			Status: engine.RunStatus{Run: "errored"},
			Traces: [][]json.RawMessage{
				{json.RawMessage(`["llm","MODEL"]`), json.RawMessage(`[[{"value":"x"}]]`)},
			},
		}, nil
	}

	w := h.do(httptest.NewRequest("GET", "/api/apps/alice/app1234567/runs/run-43", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	run := decodeBody(t, w)["run"].(map[string]any)
	if run["results"] != nil {
		t.Fatalf("errored runs must have null results: %v", run["results"])
	}
}

func TestGetRunUpstreamErrorWrapped(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPublic))

	h.engine.getRun = func(string) (engine.Run, error) {
		return engine.Run{}, &engine.UpstreamError{
			StatusCode: http.StatusBadRequest,
			Type:       "run_not_found_error",
			Body:       json.RawMessage(`{"type":"run_not_found_error","message":"no such run"}`),
		}
	}

	w := h.do(httptest.NewRequest("GET", "/api/apps/alice/app1234567/runs/run-404", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	errObj := body["error"].(map[string]any)
	if errObj["type"] != "run_error" {
		t.Fatalf("error type = %v, want run_error", errObj["type"])
	}
	runErr := errObj["run_error"].(map[string]any)
	if runErr["type"] != "run_not_found_error" {
		t.Fatalf("upstream error must be embedded under run_error: %v", runErr)
	}
}

func TestDesignDatasetListingFailureSurfacesUpstream(t *testing.T) {
	h := newTestHarness(t)
	h.addApp(aliceApp(domain.VisibilityPrivate))
	asAlice(h)
	h.engine.datasetsErr = &engine.UpstreamError{
		StatusCode: http.StatusInternalServerError,
		Type:       "internal_error",
		Body:       json.RawMessage(`{"type":"internal_error","message":"boom"}`),
	}

	w := h.do(httptest.NewRequest("POST", "/api/apps/alice/app1234567/runs",
		runBody(t, "design", map[string]any{"specification": `[{"type":"llm","name":"MODEL","spec":{}}]`})))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	if got := errorType(t, w); got != "internal_error" {
		t.Fatalf("error type = %q, want internal_error", got)
	}
}

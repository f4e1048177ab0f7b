package runreq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/loomworks/loom-go/internal/apierror"
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/engine"
)

type fakeDatasets struct {
	listing map[string][]engine.DatasetVersion
	err     error
	calls   int
}

func (f *fakeDatasets) ListDatasets(_ context.Context, _ string) (map[string][]engine.DatasetVersion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.listing, nil
}

func strPtr(s string) *string { return &s }

func validSpec() *string {
	return strPtr(`[{"type":"input","name":"INPUT","spec":{}},{"type":"data","name":"EXAMPLES","spec":{"dataset":"train"}}]`)
}

func TestBuildInlineSpecificationPinsHeadHash(t *testing.T) {
	datasets := &fakeDatasets{listing: map[string][]engine.DatasetVersion{
		"train": {{Hash: "newest"}, {Hash: "older"}},
	}}

	params, err := Build(context.Background(), datasets, "13", Request{
		Mode:          ModeDesign,
		Config:        `{"INPUT":{"type":"input","dataset":"train"},"MODEL":{"type":"llm"}}`,
		Specification: validSpec(),
	}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if params.RunType != "local" {
		t.Fatalf("run_type = %q, want local", params.RunType)
	}
	if params.Specification == nil || params.SpecificationHash != nil {
		t.Fatal("inline specification should set specification and leave the hash null")
	}
	if !strings.Contains(*params.Specification, "hash: newest") {
		t.Fatalf("dumped specification should pin the head hash:\n%s", *params.Specification)
	}
	if params.DatasetID == nil || *params.DatasetID != "train" {
		t.Fatalf("dataset_id should come from the input block, got %v", params.DatasetID)
	}
	if string(params.Config.Blocks) != `{"INPUT":{"type":"input","dataset":"train"},"MODEL":{"type":"llm"}}` {
		t.Fatalf("config blocks should carry the caller's config verbatim: %s", params.Config.Blocks)
	}
}

func TestBuildHashSkipsDatasetListing(t *testing.T) {
	datasets := &fakeDatasets{}

	params, err := Build(context.Background(), datasets, "13", Request{
		Mode:              ModeExecute,
		Config:            `{"MODEL":{"type":"llm"}}`,
		SpecificationHash: strPtr("abc123"),
	}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if params.Specification != nil || params.SpecificationHash == nil || *params.SpecificationHash != "abc123" {
		t.Fatalf("hash replay should set specification_hash only: %+v", params)
	}
	if datasets.calls != 0 {
		t.Fatal("hash replay should not list datasets")
	}
}

func TestBuildRequiresSpecificationOrHash(t *testing.T) {
	_, err := Build(context.Background(), &fakeDatasets{}, "13", Request{
		Mode:   ModeDesign,
		Config: `{}`,
	}, nil)
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestBuildRequiresConfigObject(t *testing.T) {
	for _, config := range []string{"", "not json", `[1,2]`} {
		_, err := Build(context.Background(), &fakeDatasets{}, "13", Request{
			Mode:          ModeDesign,
			Config:        config,
			Specification: validSpec(),
		}, nil)
		var apiErr *apierror.Error
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
			t.Fatalf("config %q: expected 400, got %v", config, err)
		}
	}
}

func TestBuildSurfacesDatasetListingFailure(t *testing.T) {
	upstream := &engine.UpstreamError{StatusCode: 500, Type: "internal_error"}
	_, err := Build(context.Background(), &fakeDatasets{err: upstream}, "13", Request{
		Mode:          ModeDesign,
		Config:        `{}`,
		Specification: validSpec(),
	}, nil)
	var got *engine.UpstreamError
	if !errors.As(err, &got) {
		t.Fatalf("upstream failure should surface unchanged, got %v", err)
	}
}

func TestBuildInputDataSuppressesDatasetID(t *testing.T) {
	params, err := Build(context.Background(), &fakeDatasets{}, "13", Request{
		Mode:              ModeExecute,
		Config:            `{"INPUT":{"type":"input","dataset":"train"}}`,
		SpecificationHash: strPtr("abc123"),
		InputData:         json.RawMessage(`[{"question":"why?"}]`),
	}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if params.DatasetID != nil {
		t.Fatalf("inputData should suppress dataset_id, got %v", *params.DatasetID)
	}
	if string(params.Inputs) != `[{"question":"why?"}]` {
		t.Fatalf("inputData should become the run inputs: %s", params.Inputs)
	}
}

func TestBuildRejectsMultipleInputBlocks(t *testing.T) {
	_, err := Build(context.Background(), &fakeDatasets{}, "13", Request{
		Mode:              ModeDesign,
		Config:            `{"A":{"type":"input","dataset":"x"},"B":{"type":"input","dataset":"y"}}`,
		SpecificationHash: strPtr("abc123"),
	}, nil)
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate input blocks, got %v", err)
	}
}

func TestBuildCredentialsKeyedByProvider(t *testing.T) {
	providers := []domain.Provider{
		{ProviderID: "openai", Config: `{"api_key":"sk-1"}`},
		{ProviderID: "cohere", Config: `{"api_key":"co-1"}`},
	}
	params, err := Build(context.Background(), &fakeDatasets{}, "13", Request{
		Mode:              ModeDesign,
		Config:            `{}`,
		SpecificationHash: strPtr("abc123"),
	}, providers)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(params.Credentials) != 2 {
		t.Fatalf("expected one credential entry per provider: %v", params.Credentials)
	}
	openai, ok := params.Credentials["openai"].(map[string]any)
	if !ok || openai["api_key"] != "sk-1" {
		t.Fatalf("unexpected openai credentials: %v", params.Credentials["openai"])
	}
}

func TestBuildMalformedProviderConfigIsServerFault(t *testing.T) {
	providers := []domain.Provider{{ProviderID: "openai", Config: `{broken`}}
	_, err := Build(context.Background(), &fakeDatasets{}, "13", Request{
		Mode:              ModeDesign,
		Config:            `{}`,
		SpecificationHash: strPtr("abc123"),
	}, providers)
	if err == nil {
		t.Fatal("expected error for malformed stored provider config")
	}
	if got := apierror.From(err); got.Status != http.StatusInternalServerError {
		t.Fatalf("malformed stored config should map to 500, got %d %s", got.Status, got.Type)
	}
}

func TestValidateMode(t *testing.T) {
	if err := ValidateMode(ModeDesign); err != nil {
		t.Fatalf("design: %v", err)
	}
	if err := ValidateMode(ModeExecute); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := ValidateMode("deploy"); err == nil {
		t.Fatal("unknown modes should be rejected")
	}
}

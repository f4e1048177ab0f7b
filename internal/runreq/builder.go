// Package runreq assembles run request payloads from caller-supplied
// fields, the target app's project and the owner's provider credentials.
package runreq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomworks/loom-go/internal/apierror"
	"github.com/loomworks/loom-go/internal/appspec"
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/engine"
)

// Request is the caller-facing run creation payload. Config and
// Specification are string-encoded JSON, stored and replayed verbatim.
type Request struct {
	Mode              string          `json:"mode"`
	Config            string          `json:"config"`
	Specification     *string         `json:"specification"`
	SpecificationHash *string         `json:"specificationHash"`
	Inputs            json.RawMessage `json:"inputs"`
	InputData         json.RawMessage `json:"inputData"`
}

const (
	ModeDesign  = "design"
	ModeExecute = "execute"
)

// ValidateMode rejects anything but the two dispatchable modes.
func ValidateMode(mode string) error {
	switch mode {
	case ModeDesign, ModeExecute:
		return nil
	}
	return apierror.Invalid("mode must be \"design\" or \"execute\".")
}

// DatasetLister is the one engine call the builder needs.
type DatasetLister interface {
	ListDatasets(ctx context.Context, projectID string) (map[string][]engine.DatasetVersion, error)
}

// blockConfig is the per-block shape the builder inspects. Everything
// else in a block's config is opaque and forwarded untouched.
type blockConfig struct {
	Type    string `json:"type"`
	Dataset string `json:"dataset"`
}

// Build validates the request and produces the engine payload. Exactly
// one of specification and specification_hash is non-null in the result.
// Upstream failures from the dataset listing surface unchanged so the
// handler can translate them.
func Build(ctx context.Context, datasets DatasetLister, projectID string, req Request, providers []domain.Provider) (engine.RunRequestParams, error) {
	config, err := parseConfig(req.Config)
	if err != nil {
		return engine.RunRequestParams{}, err
	}

	specProvided := req.Specification != nil && strings.TrimSpace(*req.Specification) != ""
	hashProvided := req.SpecificationHash != nil && strings.TrimSpace(*req.SpecificationHash) != ""
	if !specProvided && !hashProvided {
		return engine.RunRequestParams{}, apierror.Invalid(
			"One of specification or specificationHash is required.")
	}

	params := engine.RunRequestParams{
		RunType: "local",
		Config:  engine.RunConfig{Blocks: json.RawMessage(req.Config)},
	}

	if hashProvided {
		params.SpecificationHash = req.SpecificationHash
	} else {
		blocks, err := appspec.Parse(*req.Specification)
		if err != nil {
			return engine.RunRequestParams{}, apierror.Invalid(err.Error())
		}
		listing, err := datasets.ListDatasets(ctx, projectID)
		if err != nil {
			return engine.RunRequestParams{}, err
		}
		latest := make(map[string]string, len(listing))
		for name, versions := range listing {
			if len(versions) > 0 {
				latest[name] = versions[0].Hash
			}
		}
		dumped, err := appspec.Dump(blocks, latest)
		if err != nil {
			return engine.RunRequestParams{}, apierror.Invalid(err.Error())
		}
		params.Specification = &dumped
	}

	if len(req.InputData) > 0 {
		params.Inputs = req.InputData
	} else {
		params.Inputs = req.Inputs
		datasetID, err := inputDataset(config)
		if err != nil {
			return engine.RunRequestParams{}, err
		}
		if datasetID != "" {
			params.DatasetID = &datasetID
		}
	}

	credentials, err := credentialsFromProviders(providers)
	if err != nil {
		return engine.RunRequestParams{}, err
	}
	params.Credentials = credentials

	return params, nil
}

func parseConfig(raw string) (map[string]blockConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apierror.Invalid("config is required and must be a JSON object string.")
	}
	var config map[string]blockConfig
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return nil, apierror.Invalid("config must be a JSON object string.")
	}
	return config, nil
}

// inputDataset finds the dataset named by the config's single input
// block. Declaring more than one input block is rejected outright
// instead of silently picking one.
func inputDataset(config map[string]blockConfig) (string, error) {
	dataset := ""
	inputBlocks := 0
	for _, block := range config {
		if block.Type == "input" {
			inputBlocks++
			dataset = block.Dataset
		}
	}
	if inputBlocks > 1 {
		return "", apierror.Invalid("config declares more than one input block.")
	}
	return dataset, nil
}

// credentialsFromProviders decodes every stored provider config into one
// credential entry keyed by provider identifier. A stored config that no
// longer parses is a data fault, not a caller error.
func credentialsFromProviders(providers []domain.Provider) (map[string]any, error) {
	credentials := make(map[string]any, len(providers))
	for _, p := range providers {
		decoded, err := p.DecodeConfig()
		if err != nil {
			return nil, fmt.Errorf("decode stored provider config: %w", err)
		}
		credentials[p.ProviderID] = decoded
	}
	return credentials, nil
}

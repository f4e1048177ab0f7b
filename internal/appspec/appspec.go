// Package appspec parses app specifications and dumps them into the
// canonical text form the execution engine stores and hashes.
package appspec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Block is one unit of an app specification. Spec holds the block's
// typed parameters; the execution config travels separately.
type Block struct {
	Type string         `json:"type"`
	Name string         `json:"name"`
	Spec map[string]any `json:"spec"`
}

// BlockTypeInput marks the block that binds caller-provided inputs.
const BlockTypeInput = "input"

// BlockTypeData marks a block reading from a registered dataset.
const BlockTypeData = "data"

// Parse decodes a JSON block array and validates block identity. Block
// semantics beyond type and name are left to the engine.
func Parse(raw string) ([]Block, error) {
	var blocks []Block
	if err := json.Unmarshal([]byte(raw), &blocks); err != nil {
		return nil, fmt.Errorf("specification must be a JSON block array: %w", err)
	}
	for i, b := range blocks {
		if strings.TrimSpace(b.Type) == "" {
			return nil, fmt.Errorf("block %d: type is required", i)
		}
		if strings.TrimSpace(b.Name) == "" {
			return nil, fmt.Errorf("block %d (%s): name is required", i, b.Type)
		}
	}
	return blocks, nil
}

// InputBlockCount reports how many input blocks the specification has.
// A runnable specification has at most one.
func InputBlockCount(blocks []Block) int {
	n := 0
	for _, b := range blocks {
		if b.Type == BlockTypeInput {
			n++
		}
	}
	return n
}

// Dump renders blocks into the canonical text form. Data blocks are
// pinned to the head hash of their dataset so the dumped text fully
// determines what the run reads. The rendering is deterministic: spec
// keys are emitted in sorted order.
func Dump(blocks []Block, latestDatasets map[string]string) (string, error) {
	var out strings.Builder
	for i, b := range blocks {
		out.WriteString(b.Type)
		out.WriteString(" ")
		out.WriteString(b.Name)
		out.WriteString(" {\n")

		if b.Type == BlockTypeData {
			datasetName, _ := b.Spec["dataset"].(string)
			if datasetName == "" {
				return "", fmt.Errorf("block %d (data %s): dataset is required", i, b.Name)
			}
			hash, ok := latestDatasets[datasetName]
			if !ok {
				return "", fmt.Errorf("block %d (data %s): unknown dataset %q", i, b.Name, datasetName)
			}
			writeField(&out, "dataset_id", datasetName)
			writeField(&out, "hash", hash)
		} else {
			keys := make([]string, 0, len(b.Spec))
			for k := range b.Spec {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				writeField(&out, k, renderValue(b.Spec[k]))
			}
		}

		out.WriteString("}\n")
		if i < len(blocks)-1 {
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}

func writeField(out *strings.Builder, key, value string) {
	out.WriteString("  ")
	out.WriteString(key)
	out.WriteString(":")
	if strings.Contains(value, "\n") {
		// Multi-line values are fenced so the format stays parseable.
		out.WriteString("\n```\n")
		out.WriteString(value)
		if !strings.HasSuffix(value, "\n") {
			out.WriteString("\n")
		}
		out.WriteString("```\n")
		return
	}
	out.WriteString(" ")
	out.WriteString(value)
	out.WriteString("\n")
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// json.Unmarshal decodes all numbers as float64; keep integral
		// values free of a trailing ".0" so dumps hash stably.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = renderValue(item)
		}
		return strings.Join(parts, "\n")
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}

package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kadirpekel/taskorch/pkg/session"
)

// SchemaProvider resolves a canonical tool name to its inputSchema, as
// reported by the owning MCP server's catalog.
type SchemaProvider interface {
	SchemaFor(tool string) (map[string]any, bool)
}

// SchemaStage validates parameters against each tool's inputSchema,
// with parameter-name fuzzy correction and scalar type coercion
// (spec.md §4.3). Critical.
type SchemaStage struct {
	provider  SchemaProvider
	Threshold float64
}

// NewSchemaStage builds a SchemaStage with the default fuzzy threshold.
func NewSchemaStage(provider SchemaProvider) *SchemaStage {
	return &SchemaStage{provider: provider, Threshold: DefaultFuzzyThreshold}
}

func (s *SchemaStage) Name() string   { return "Schema" }
func (s *SchemaStage) Critical() bool { return true }

func (s *SchemaStage) Validate(_ context.Context, calls []session.ToolCall) StageResult {
	res := StageResult{Stage: s.Name()}
	corrected := make([]session.ToolCall, len(calls))

	for i, c := range calls {
		corrected[i] = c

		schema, ok := s.provider.SchemaFor(c.Tool)
		if !ok {
			// No schema published for this tool yet; MCP-Sync stage (next)
			// is the one responsible for rejecting unknown tools.
			continue
		}

		params, renames := s.correctParameterNames(c.Parameters, schema)
		for _, rn := range renames {
			res.Corrections = append(res.Corrections, Correction{
				Kind: CorrectionParameterRenamed, Stage: s.Name(),
				Detail: rn, CallIdx: i,
			})
		}

		params, coercions := coerceTypes(params, schema)
		for _, cc := range coercions {
			res.Corrections = append(res.Corrections, Correction{
				Kind: CorrectionTypeCoerced, Stage: s.Name(),
				Detail: cc, CallIdx: i,
			})
		}

		corrected[i].Parameters = params

		if err := validateAgainstSchema(schema, params); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("call %d (%s): %v", i, c.Tool, err))
		}
	}

	res.Corrected = corrected
	return res
}

// correctParameterNames fuzzy-matches unexpected parameter keys against
// the schema's declared properties and renames them above threshold.
func (s *SchemaStage) correctParameterNames(params map[string]any, schema map[string]any) (map[string]any, []string) {
	props, _ := schema["properties"].(map[string]any)
	if props == nil || params == nil {
		return params, nil
	}

	known := make([]string, 0, len(props))
	for name := range props {
		known = append(known, name)
	}

	out := make(map[string]any, len(params))
	var renames []string
	for k, v := range params {
		if _, exact := props[k]; exact {
			out[k] = v
			continue
		}
		match, ok := BestFuzzyMatch(k, known)
		if ok && match.Score >= s.Threshold {
			out[match.Candidate] = v
			renames = append(renames, fmt.Sprintf("%s -> %s", k, match.Candidate))
			continue
		}
		out[k] = v
	}
	return out, renames
}

// coerceTypes converts string-encoded scalars to the schema's declared
// type where unambiguous (e.g. "3" -> 3 for an integer property).
func coerceTypes(params map[string]any, schema map[string]any) (map[string]any, []string) {
	props, _ := schema["properties"].(map[string]any)
	if props == nil || params == nil {
		return params, nil
	}

	var coercions []string
	out := make(map[string]any, len(params))
	for k, v := range params {
		propSchema, ok := props[k].(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		wantType, _ := propSchema["type"].(string)
		coerced, changed := coerceValue(v, wantType)
		out[k] = coerced
		if changed {
			coercions = append(coercions, fmt.Sprintf("%s: %v -> %v (%s)", k, v, coerced, wantType))
		}
	}
	return out, coercions
}

func coerceValue(v any, wantType string) (any, bool) {
	str, isStr := v.(string)
	if !isStr {
		return v, false
	}
	switch wantType {
	case "integer":
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			return n, true
		}
	case "number":
		if f, err := strconv.ParseFloat(str, 64); err == nil {
			return f, true
		}
	case "boolean":
		if b, err := strconv.ParseBool(str); err == nil {
			return b, true
		}
	}
	return v, false
}

// validateAgainstSchema compiles schema on the fly and validates
// params against it, mirroring the pack's santhosh-tekuri usage
// (compile-a-resource-then-validate).
func validateAgainstSchema(schema map[string]any, params map[string]any) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(data, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}

	paramData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	var paramDoc any
	if err := json.Unmarshal(paramData, &paramDoc); err != nil {
		return fmt.Errorf("unmarshal params: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool-schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("tool-schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	return compiled.Validate(paramDoc)
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaValidator compiles the admin write-surface's JSON schemas once at
// startup and validates request bodies before they are decoded into Go
// structs, the way services/orchestrator/internal/validation.Pipeline
// compiles and validates against named schemas rather than hand-rolled
// field checks.
type schemaValidator struct {
	compiled map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	v := &schemaValidator{compiled: make(map[string]*jsonschema.Schema)}
	for name, raw := range adminRequestSchemas {
		uri := "schema://" + name
		if err := compiler.AddResource(uri, bytes.NewReader([]byte(raw))); err != nil {
			panic(fmt.Sprintf("httpapi: invalid embedded schema %q: %v", name, err))
		}
		schema, err := compiler.Compile(uri)
		if err != nil {
			panic(fmt.Sprintf("httpapi: failed to compile embedded schema %q: %v", name, err))
		}
		v.compiled[name] = schema
	}
	return v
}

// validate checks body (raw JSON) against the named schema.
func (v *schemaValidator) validate(schemaName string, body []byte) error {
	schema, ok := v.compiled[schemaName]
	if !ok {
		return fmt.Errorf("unknown schema %q", schemaName)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			var messages []string
			collectSchemaErrors(verr, "", &messages)
			return fmt.Errorf("%s", strings.Join(messages, "; "))
		}
		return err
	}
	return nil
}

func collectSchemaErrors(err *jsonschema.ValidationError, path string, out *[]string) {
	current := path
	if err.InstanceLocation != "" {
		if current != "" {
			current = current + "/" + err.InstanceLocation
		} else {
			current = err.InstanceLocation
		}
	}
	if err.Message != "" {
		if current != "" {
			*out = append(*out, fmt.Sprintf("at %s: %s", current, err.Message))
		} else {
			*out = append(*out, err.Message)
		}
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, current, out)
	}
}

// adminRequestSchemas are the draft-07 schemas for every admin mutating
// endpoint's request body. Kept as Go string literals rather than files
// on disk since the module has no asset pipeline to embed them with.
var adminRequestSchemas = map[string]string{
	"source_config": `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name", "kind", "url"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"kind": {"type": "string", "enum": ["nvd", "cisa_kev", "epss", "rss", "vendor"]},
			"url": {"type": "string", "minLength": 1},
			"enabled": {"type": "boolean"},
			"pollIntervalSeconds": {"type": "integer", "minimum": 1}
		}
	}`,
	"llm_provider": `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name", "model", "priority"],
		"properties": {
			"name": {"type": "string", "enum": ["anthropic", "openai", "azure_openai", "local"]},
			"model": {"type": "string", "minLength": 1},
			"apiKey": {"type": "string"},
			"priority": {"type": "integer", "minimum": 0},
			"enabled": {"type": "boolean"},
			"azureEndpoint": {"type": "string"},
			"azureApiVersion": {"type": "string"},
			"azureDeployment": {"type": "string"}
		}
	}`,
	"notification_settings": `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["enabled", "recipients"],
		"properties": {
			"enabled": {"type": "boolean"},
			"recipients": {"type": "array", "items": {"type": "string", "format": "email"}},
			"immediateSeverities": {"type": "array", "items": {"type": "string"}},
			"digestEnabled": {"type": "boolean"},
			"digestHours": {"type": "integer", "minimum": 1, "maximum": 24},
			"alertOnKev": {"type": "boolean"},
			"alertOnHighEpss": {"type": "boolean"},
			"epssThreshold": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`,
	"smtp_config": `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["host", "port", "from"],
		"properties": {
			"host": {"type": "string", "minLength": 1},
			"port": {"type": "integer", "minimum": 1, "maximum": 65535},
			"user": {"type": "string"},
			"password": {"type": "string"},
			"from": {"type": "string", "minLength": 1},
			"useTls": {"type": "boolean"}
		}
	}`,
	"custom_product": `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["vendor", "product"],
		"properties": {
			"vendor": {"type": "string", "minLength": 1},
			"product": {"type": "string", "minLength": 1},
			"version": {"type": "string"},
			"cpeUri": {"type": "string"}
		}
	}`,
	"review_edit": `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"description": {"type": "string"},
			"severity": {"type": "string", "enum": ["CRITICAL", "HIGH", "MEDIUM", "LOW", "NONE", "UNKNOWN"]},
			"cvssScore": {"type": "number", "minimum": 0, "maximum": 10},
			"cvssVector": {"type": "string"}
		}
	}`,
	"reject_review": `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["reviewer"],
		"properties": {
			"reviewer": {"type": "string", "minLength": 1},
			"notes": {"type": "string"}
		}
	}`,
}

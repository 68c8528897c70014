package ingest

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/envelope.schema.json
var envelopeSchema []byte

const envelopeSchemaURL = "https://interaction-ingest.local/envelope.schema.json"

// SchemaChecker detects envelopes that drifted from the known producer
// shape. Drift is reported, never enforced: the normalizer still ingests
// whatever it can extract.
type SchemaChecker struct {
	schema *jsonschema.Schema
}

// NewSchemaChecker compiles the embedded envelope schema.
func NewSchemaChecker() (*SchemaChecker, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse envelope schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to load envelope schema: %w", err)
	}
	sch, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}
	return &SchemaChecker{schema: sch}, nil
}

// Check returns a non-nil error describing how raw deviates from the
// envelope schema.
func (c *SchemaChecker) Check(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("envelope is not JSON: %w", err)
	}
	if err := c.schema.Validate(inst); err != nil {
		return fmt.Errorf("envelope schema drift: %w", err)
	}
	return nil
}

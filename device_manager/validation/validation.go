package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"nodedash/device_manager/apperr"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	Device          = "device"
	DeviceUpdate    = "device_update"
	integrationBase = "integration_"
	providerBase    = "provider_"
)

func IntegrationConfig(integrationType string) string {
	return integrationBase + integrationType
}

func ProviderConfig(providerType string) string {
	return providerBase + providerType
}

// Validator checks request payloads and stored configs against the bundled
// json schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

func New() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("cannot read schema dir: %w", err)
	}

	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("cannot read schema '%s': %w", e.Name(), err)
		}

		var header struct {
			Id string `json:"$id"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			return nil, fmt.Errorf("parse error in schema '%s': %w", e.Name(), err)
		}
		if header.Id == "" {
			return nil, fmt.Errorf("schema '%s' does not contain $id", e.Name())
		}

		schema, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewStringLoader(string(data)))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", header.Id, err)
		}
		v.schemas[header.Id] = schema
	}

	return v, nil
}

func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Validator) HasSchema(id string) bool {
	_, ok := v.schemas[id]
	return ok
}

// Validate checks doc against the schema id. Schema violations are returned as
// a Validation error listing every failing field.
func (v *Validator) Validate(doc interface{}, id string) error {
	schema, ok := v.schemas[id]
	if !ok {
		return fmt.Errorf("there is no schema %s", id)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return apperr.Newf(apperr.Validation, "invalid document: %v", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return apperr.Newf(apperr.Validation, "validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ValidateOptional is Validate for ids that may not have a schema, such as
// provider types without config requirements.
func (v *Validator) ValidateOptional(doc interface{}, id string) error {
	if !v.HasSchema(id) {
		return nil
	}
	return v.Validate(doc, id)
}

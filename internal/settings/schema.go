package settings

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
)

const schemaURL = "https://zentab.invalid/schema/settings.json"

const schemaSource = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"archiveEnabled": {"type": "boolean"},
		"archiveAfterHours": {"type": "number", "exclusiveMinimum": 0},
		"excludePinnedTabs": {"type": "boolean"},
		"excludedDomains": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		},
		"workspaceRules": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["pattern", "workspaceId"],
				"properties": {
					"pattern": {"type": "string", "minLength": 1},
					"workspaceId": {"type": "string", "minLength": 1}
				}
			}
		},
		"useSyncStorage": {"type": "boolean"}
	}
}`

var settingsSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaSource))
	if err != nil {
		panic("settings: schema does not parse: " + err.Error())
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic("settings: schema resource: " + err.Error())
	}
	return c.MustCompile(schemaURL)
}

// validateDocument checks a raw JSON document against the settings schema.
func validateDocument(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: settings are not valid JSON: %v", zerrors.ErrInvalidInput, err)
	}
	if err := settingsSchema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", zerrors.ErrInvalidInput, err)
	}
	return nil
}

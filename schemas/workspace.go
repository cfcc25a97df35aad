// Package schemas generates JSON Schemas for sibyl's file formats.
package schemas

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// WorkspaceSchemaID is the $id of the workspace schema.
const WorkspaceSchemaID = "https://github.com/omarrsalif594/sibyl-sub000/schemas/workspace.schema.json"

var durationType = reflect.TypeOf(workspace.Duration(0))

// Workspace returns the JSON Schema of a workspace file, reflected from
// workspace.Settings. Editors can use it for completion; it does not
// express the one-of-use/shop/loop/parallel/try rule, which only
// validation enforces.
func Workspace() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == durationType {
				return &jsonschema.Schema{
					Type:        "string",
					Description: "Go duration such as 500ms, 30s or 2m",
					Examples:    []any{"30s"},
				}
			}
			return nil
		},
	}

	s := r.Reflect(&workspace.Settings{})
	s.ID = WorkspaceSchemaID
	s.Title = "Sibyl workspace"
	s.Description = "Shops, MCP providers, budgets and pipelines run by sibyl"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal workspace schema: %w", err)
	}
	return data, nil
}

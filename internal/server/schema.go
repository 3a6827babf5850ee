package server

import (
	"net/http"
	"reflect"
	"sync"

	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/relay"
	"github.com/go-openapi/strfmt"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var wireReflector = jsonschema.Reflector{
	DoNotReference: true,
	Mapper: func(t reflect.Type) *jsonschema.Schema {
		if t == reflect.TypeOf(strfmt.DateTime{}) {
			return &jsonschema.Schema{Type: "string", Format: "date-time"}
		}
		return nil
	},
}

var (
	schemasOnce sync.Once
	schemas     *orderedmap.OrderedMap[string, *jsonschema.Schema]
)

// WireSchemas describes the JSON documents the relay sends and stores.
func WireSchemas() *orderedmap.OrderedMap[string, *jsonschema.Schema] {
	schemasOnce.Do(func() {
		schemas = orderedmap.New[string, *jsonschema.Schema]()
		schemas.Set("Message", reflectSchema(&messages.Message{}, "A committed chat message"))
		schemas.Set("Delta", reflectSchema(&messages.Delta{}, "One increment of a streaming answer"))
		schemas.Set("Status", reflectSchema(&relay.Status{}, "Upstream availability"))
	})
	return schemas
}

func reflectSchema(v any, description string) *jsonschema.Schema {
	schema := wireReflector.Reflect(v)
	schema.Description = description
	return schema
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, WireSchemas())
}

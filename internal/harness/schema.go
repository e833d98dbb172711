package harness

import "github.com/invopop/jsonschema"

// ToolSchema names one tool call an AgentAdapter accepts and the Go struct
// whose reflected JSON schema defines its closed argument set (§4.4: "closed
// nested variant; unknown/extra fields are rejected").
type ToolSchema struct {
	Name string
	Args any
}

// allowedArgs reflects every ToolSchema's Args struct into the set of
// top-level property names a call to that tool may carry.
func allowedArgs(schemas []ToolSchema) map[string]map[string]struct{} {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	allowed := make(map[string]map[string]struct{}, len(schemas))
	for _, s := range schemas {
		keys := make(map[string]struct{})
		schema := reflector.Reflect(s.Args)
		if schema != nil && schema.Properties != nil {
			for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
				keys[pair.Key] = struct{}{}
			}
		}
		allowed[s.Name] = keys
	}
	return allowed
}

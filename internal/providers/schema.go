package providers

// Schema keywords some providers reject. Anthropic's input_schema validator
// is stricter than OpenAI's; unknown keywords cause a 400.
var unsupportedSchemaKeys = map[string][]string{
	"anthropic": {"$schema", "additionalProperties", "default", "examples"},
}

// CleanSchemaForProvider strips JSON-schema keywords the provider does not
// accept, recursing through properties and array items. The input map is
// not modified.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	banned := unsupportedSchemaKeys[provider]

	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if contains(banned, k) {
			continue
		}
		switch child := v.(type) {
		case map[string]interface{}:
			out[k] = CleanSchemaForProvider(provider, child)
		default:
			out[k] = v
		}
	}
	return out
}

// CleanToolSchemas renders tool definitions in OpenAI wire shape with
// provider-incompatible schema keywords removed.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

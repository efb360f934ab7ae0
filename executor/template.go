package executor

import "strings"

// Render substitutes literal {{field}} placeholders in template with the
// given profile fields. This is deliberately not a templating language: a
// placeholder whose field is absent is left in place as-is, so a missing
// optional field degrades to visible literal text instead of an error.
func Render(template string, fields Fields) string {
	out := template
	for key, value := range fields {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// RenderAll renders every value of a template map against fields.
func RenderAll(templates map[string]string, fields Fields) map[string]string {
	out := make(map[string]string, len(templates))
	for name, tmpl := range templates {
		out[name] = Render(tmpl, fields)
	}
	return out
}

package dispatch

import (
	"net/url"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ExpandURL substitutes every {{name}} in tmpl with the URL-escaped params
// value. A missing or empty value is a validation error.
func ExpandURL(tmpl string, params map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v := params[name]
		if v == "" {
			if missing == "" {
				missing = name
			}
			return m
		}
		return escapeComponent(v)
	})
	if missing != "" {
		return "", validationError("Missing required parameter: %s", missing)
	}
	return out, nil
}

// escapeComponent escapes a value for any position in a URL, with spaces as %20.
func escapeComponent(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// Package scrub redacts sensitive data from decoded JSON values.
package scrub

import (
	"regexp"
	"sort"
	"strings"
)

// Marker replaces every redacted value or substring.
const Marker = "[REDACTED]"

// Redaction tallies how many values of one category were replaced.
type Redaction struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Result is the outcome of one Scrub call.
type Result struct {
	Scrubbed   any
	Redactions []Redaction
}

// Keys whose whole value is redacted, matched case-insensitively.
var sensitiveKeys = []string{
	"email",
	"ssn",
	"phone",
	"address",
	"api_key",
	"apikey",
	"token",
	"jwt",
	"private_key",
	"password",
	"secret",
	"db_connection",
	"connection_string",
	"authorization",
	"auth_token",
	"access_token",
	"refresh_token",
}

// Pre-compiled value patterns, applied in order to every string.
var patterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)},
	// Three base64url segments, header always starts with {" encoded.
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)},
	{"aws_key", regexp.MustCompile(`\b(?:AKIA|ABIA|ACCA|ASIA)[A-Z0-9]{16}\b`)},
	{"private_key", regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+)?PRIVATE\s+KEY-----[\s\S]*?-----END\s+(?:RSA\s+)?PRIVATE\s+KEY-----`)},
	{"bearer_token", regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_-]+`)},
	{"db_connection", regexp.MustCompile(`(?i)(?:postgresql|mysql|mongodb|redis)://[^:]+:[^@]+@[^\s]+`)},
	{"api_key", regexp.MustCompile(`\b(?:sk_live_|sk_test_|pk_live_|pk_test_|api_key_)[A-Za-z0-9]{20,}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"phone", regexp.MustCompile(`\b(?:\+1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
}

// Scrub returns a copy of v with sensitive content replaced by Marker, plus a
// tally per category in first-seen order. v is expected to be a value produced
// by encoding/json: maps, slices, strings, numbers, bools and nil. The input is
// not modified. Object keys are visited in sorted order so the tally order is
// deterministic.
func Scrub(v any) Result {
	t := &tally{list: []Redaction{}, index: map[string]int{}}
	out := t.value(v)
	return Result{Scrubbed: out, Redactions: t.list}
}

// Total sums the counts of a redaction list.
func Total(rs []Redaction) int {
	n := 0
	for _, r := range rs {
		n += r.Count
	}
	return n
}

// tally is the per-call counter; it never outlives one Scrub call.
type tally struct {
	list  []Redaction
	index map[string]int
}

func (t *tally) add(kind string, n int) {
	if i, ok := t.index[kind]; ok {
		t.list[i].Count += n
		return
	}
	t.index[kind] = len(t.list)
	t.list = append(t.list, Redaction{Type: kind, Count: n})
}

func (t *tally) value(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return t.str(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = t.value(item)
		}
		return out
	case map[string]any:
		return t.object(x)
	default:
		return v
	}
}

func (t *tally) object(obj map[string]any) map[string]any {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(obj))
	for _, k := range keys {
		if !isSensitiveKey(k) {
			out[k] = t.value(obj[k])
			continue
		}
		out[k] = Marker
		// An already-redacted value is not counted again.
		if s, ok := obj[k].(string); ok && s == Marker {
			continue
		}
		t.add("key_"+strings.ToLower(k), 1)
	}
	return out
}

func (t *tally) str(s string) string {
	for _, p := range patterns {
		n := len(p.re.FindAllStringIndex(s, -1))
		if n == 0 {
			continue
		}
		t.add(p.kind, n)
		s = p.re.ReplaceAllLiteralString(s, Marker)
	}
	return s
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		// Containment also covers exact and underscore-affixed matches.
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

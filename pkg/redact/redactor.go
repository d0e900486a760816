// Package redact masks contact details and identifiers in confirmed report
// fields before they are kept in the audit trail.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const keyMask = "[redacted]"

type compiledRule struct {
	name string
	mask string
	re   *regexp.Regexp
}

type Redactor struct {
	rules []compiledRule
	keys  map[string]struct{}
}

func New(cfg Rules) (*Redactor, error) {
	r := &Redactor{keys: make(map[string]struct{}, len(cfg.Keys))}
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction rule %s: %w", rule.Name, err)
		}
		r.rules = append(r.rules, compiledRule{name: rule.Name, mask: rule.Mask, re: re})
	}
	for _, k := range cfg.Keys {
		r.keys[normalizeKey(k)] = struct{}{}
	}
	return r, nil
}

// String masks every rule match in s and names the rules that fired.
func (r *Redactor) String(s string) (string, []string) {
	if r == nil {
		return s, nil
	}
	var hits []string
	for _, rule := range r.rules {
		if rule.re.MatchString(s) {
			s = rule.re.ReplaceAllString(s, rule.mask)
			hits = append(hits, rule.name)
		}
	}
	return s, hits
}

// Fields returns a masked copy of fields plus the sorted names of the rules
// and keys that fired. The input is not modified.
func (r *Redactor) Fields(fields map[string]string) (map[string]string, []string) {
	if r == nil || fields == nil {
		return fields, nil
	}

	out := make(map[string]string, len(fields))
	seen := map[string]struct{}{}
	for k, v := range fields {
		if _, ok := r.keys[normalizeKey(k)]; ok && strings.TrimSpace(v) != "" {
			out[k] = keyMask
			seen["key:"+normalizeKey(k)] = struct{}{}
			continue
		}
		masked, hits := r.String(v)
		out[k] = masked
		for _, h := range hits {
			seen[h] = struct{}{}
		}
	}

	fired := make([]string, 0, len(seen))
	for h := range seen {
		fired = append(fired, h)
	}
	sort.Strings(fired)
	return out, fired
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(k, "_", " ")), "_"))
}

package codec

import (
	"regexp"
	"strings"
)

var wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

// Links returns the de-duplicated wiki link targets in body. Aliased links
// ([[Target|Alias]]) yield their target.
func Links(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target, _ := splitAlias(m[1])
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// RewriteLinks points every wiki link targeting oldTitle at newTitle.
// Targets are compared case-insensitively; aliases are kept.
func RewriteLinks(body, oldTitle, newTitle string) (string, bool) {
	changed := false
	out := wikilinkRe.ReplaceAllStringFunc(body, func(link string) string {
		inner := link[2 : len(link)-2]
		target, alias := splitAlias(inner)
		if !strings.EqualFold(target, oldTitle) {
			return link
		}
		changed = true
		if alias != "" {
			return "[[" + newTitle + "|" + alias + "]]"
		}
		return "[[" + newTitle + "]]"
	})
	return out, changed
}

func splitAlias(raw string) (target, alias string) {
	target = raw
	if i := strings.Index(raw, "|"); i >= 0 {
		target, alias = raw[:i], raw[i+1:]
	}
	return strings.TrimSpace(target), alias
}

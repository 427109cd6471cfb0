package bridge

import "strings"

// Slug turns a device name into a topic segment. Devices without a name use
// their id.
func Slug(name, id string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '+' || r == '#' || r == '/':
			return -1
		default:
			return '_'
		}
	}, slug)
	for strings.Contains(slug, "__") {
		slug = strings.ReplaceAll(slug, "__", "_")
	}
	slug = strings.Trim(slug, "_")
	if slug == "" {
		return strings.ToLower(id)
	}
	return slug
}

package schema

import "strings"

// NormalizeRole folds a free-text role into the fixed vocabulary.
// Matching is case-insensitive; nil, empty and unrecognized values map to Admin.
func NormalizeRole(raw *string) Role {
	role, _ := NormalizeRoleReport(raw)
	return role
}

// NormalizeRoleReport is NormalizeRole that also reports whether a
// non-empty value was unrecognized and coerced to Admin.
func NormalizeRoleReport(raw *string) (Role, bool) {
	if raw == nil || *raw == "" {
		return RoleAdmin, false
	}

	switch strings.ToUpper(*raw) {
	case "ADMIN":
		return RoleAdmin, false
	case "MANAGER":
		return RoleManager, false
	}

	return RoleAdmin, true
}

// ParseRoleFilter parses a role filter as used by list views: "All" (or empty)
// matches every role and is returned as "". Anything else must name a role,
// case-insensitively.
func ParseRoleFilter(s string) (Role, bool) {
	if s == "" || strings.EqualFold(s, RoleAll) {
		return "", true
	}
	switch strings.ToUpper(s) {
	case "ADMIN":
		return RoleAdmin, true
	case "MANAGER":
		return RoleManager, true
	}
	return "", false
}

// NormalizeName returns the uniqueness key for a name: trimmed and lowercased.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

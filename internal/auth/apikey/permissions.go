package apikey

import (
	"fmt"
	"sort"
	"strings"
)

// Permissions are "<resource>:<action>" strings over a fixed enumeration.
var validPermissions = buildPermissionSet()

func buildPermissionSet() map[string]struct{} {
	perms := make(map[string]struct{})
	for _, resource := range []string{"patients", "encounters", "appointments", "users"} {
		for _, action := range []string{"read", "write", "delete"} {
			perms[resource+":"+action] = struct{}{}
		}
	}
	perms["admin:read"] = struct{}{}
	perms["admin:write"] = struct{}{}
	return perms
}

// ValidPermissions returns the sorted permission enumeration.
func ValidPermissions() []string {
	perms := make([]string, 0, len(validPermissions))
	for p := range validPermissions {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

// IsValidPermission reports whether p is part of the enumeration.
func IsValidPermission(p string) bool {
	_, ok := validPermissions[p]
	return ok
}

// ValidatePermissions checks every entry against the enumeration.
func ValidatePermissions(perms []string) error {
	var invalid []string
	for _, p := range perms {
		if !IsValidPermission(p) {
			invalid = append(invalid, p)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid permissions: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// NormalizePermissions collapses duplicate entries, keeping the first
// occurrence's position. Records always persist the collapsed set.
func NormalizePermissions(perms []string) []string {
	if perms == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

// PermissionSet is the set of permissions granted to a key.
type PermissionSet []string

// Has reports whether the set contains perm.
func (s PermissionSet) Has(perm string) bool {
	for _, p := range s {
		if p == perm {
			return true
		}
	}
	return false
}

// HasAny reports whether the set contains at least one of perms.
func (s PermissionSet) HasAny(perms ...string) bool {
	for _, perm := range perms {
		if s.Has(perm) {
			return true
		}
	}
	return false
}

// HasAll reports whether the set contains every one of perms.
func (s PermissionSet) HasAll(perms ...string) bool {
	for _, perm := range perms {
		if !s.Has(perm) {
			return false
		}
	}
	return true
}

// Package realm mints and validates identity-provider realm names.
package realm

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxLen is the longest realm name NameFor produces.
const MaxLen = 50

var validName = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// NameFor derives the realm slug for a company display name.
// Distinct names may map to the same slug; callers detect that as a conflict.
func NameFor(companyName string) string {
	lower := strings.ToLower(companyName)
	var b strings.Builder
	b.Grow(len(lower))
	prevDash := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash {
			b.WriteByte('-')
			prevDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > MaxLen {
		slug = strings.TrimRight(slug[:MaxLen], "-")
	}
	return slug
}

// Validate applies the rules every minted name satisfies.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("realm name is empty")
	}
	if len(name) > MaxLen {
		return fmt.Errorf("realm name %q exceeds %d characters", name, MaxLen)
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("realm name %q has invalid characters", name)
	}
	return nil
}

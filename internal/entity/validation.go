package entity

import (
	"fmt"
	"regexp"
	"strings"
)

// maxNameLength bounds entity display names.
const maxNameLength = 128

// objectIDPattern is the allowed shape of the object id part:
// lowercase alphanumerics and underscores, starting with a letter or digit.
var objectIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)

// Validate checks an entity for structural problems before persistence.
func Validate(e *Entity) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", ErrInvalidEntity)
	}

	if err := ValidateID(e.ID); err != nil {
		return err
	}

	domain, _, _ := SplitID(e.ID)
	if e.Domain == "" {
		e.Domain = domain
	} else if e.Domain != domain {
		return fmt.Errorf("%w: id domain %q does not match entity domain %q",
			ErrInvalidID, domain, e.Domain)
	}

	if !validDomain(e.Domain) {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, e.Domain)
	}

	if e.Name == "" || len(e.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidName, maxNameLength)
	}

	if e.Platform == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidEntity)
	}

	return nil
}

// ValidateID checks an entity id for the "domain.object_id" shape.
func ValidateID(id string) error {
	domain, objectID, ok := SplitID(id)
	if !ok {
		return fmt.Errorf("%w: %q (want domain.object_id)", ErrInvalidID, id)
	}
	if !validDomain(domain) {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	if !objectIDPattern.MatchString(objectID) {
		return fmt.Errorf("%w: object id %q (lowercase alphanumerics and underscores only)",
			ErrInvalidID, objectID)
	}
	return nil
}

func validDomain(d Domain) bool {
	for _, known := range AllDomains() {
		if d == known {
			return true
		}
	}
	return false
}

// Slugify converts a display name into a valid object id.
//
//	"Bedroom Humidifier" -> "bedroom_humidifier"
func Slugify(name string) string {
	var b strings.Builder
	lastUnderscore := true // suppress leading underscores
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

package domain

import "strings"

// FormType classifies a CARD form. Entity cards assert identity, data cards
// capture data-sharing terms, use cards capture agent usage permissions.
type FormType string

const (
	FormTypeEntity FormType = "entity"
	FormTypeData   FormType = "data"
	FormTypeUse    FormType = "use"
)

// Valid reports whether the form type is one of the three known kinds.
func (t FormType) Valid() bool {
	switch t {
	case FormTypeEntity, FormTypeData, FormTypeUse:
		return true
	}
	return false
}

// URNPrefix wraps instance references on the public verification surface.
const URNPrefix = "urn:uuid:"

// StripURN removes an optional urn:uuid: prefix from an external reference.
func StripURN(ref string) string {
	return strings.TrimPrefix(ref, URNPrefix)
}

// URN wraps an instance ID in its external urn:uuid: form.
func URN(id InstanceID) string {
	return URNPrefix + id.String()
}

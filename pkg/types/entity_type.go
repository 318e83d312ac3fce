package types

import (
	"fmt"
	"strings"
)

// EntityType identifies one of the cacheable remote entity kinds. The set is
// closed: adding a kind means adding a constant and a row to entityTypeTable,
// and bumping IndexVersion.
type EntityType uint8

// Cacheable entity kinds.
const (
	Sources EntityType = iota + 1
	Transforms
	ConnectorRules
	IdentityProfiles
	AccessProfiles
	Roles
	Workflows
	Forms
	ServiceDeskIntegrations
	LifecycleStates
	Schemas
	ProvisioningPolicies
)

// IndexVersion is the schema version of the on-disk cache index. An index
// carrying any other version is discarded on attach.
const IndexVersion = "1"

// entityTypeTable maps each kind to its wire tag and storage path segment.
// Index 0 is the zero value and is never valid.
var entityTypeTable = [...]struct {
	tag     string
	segment string
}{
	{},
	Sources:                 {"sources", "sources"},
	Transforms:              {"transforms", "transforms"},
	ConnectorRules:          {"connector-rules", "connector-rules"},
	IdentityProfiles:        {"identity-profiles", "identity-profiles"},
	AccessProfiles:          {"access-profiles", "access-profiles"},
	Roles:                   {"roles", "roles"},
	Workflows:               {"workflows", "workflows"},
	Forms:                   {"forms", "forms"},
	ServiceDeskIntegrations: {"service-desk-integrations", "service-desk-integrations"},
	LifecycleStates:         {"lifecycle-states", "lifecycle-states"},
	Schemas:                 {"schemas", "schemas"},
	ProvisioningPolicies:    {"provisioning-policies", "provisioning-policies"},
}

// AllEntityTypes lists every valid kind in declaration order.
func AllEntityTypes() []EntityType {
	out := make([]EntityType, 0, len(entityTypeTable)-1)
	for i := 1; i < len(entityTypeTable); i++ {
		out = append(out, EntityType(i))
	}
	return out
}

// Valid reports whether t is one of the declared kinds.
func (t EntityType) Valid() bool {
	return t > 0 && int(t) < len(entityTypeTable)
}

// String returns the wire tag, e.g. "connector-rules".
func (t EntityType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("EntityType(%d)", uint8(t))
	}
	return entityTypeTable[t].tag
}

// Segment returns the storage path segment for the kind.
func (t EntityType) Segment() string {
	if !t.Valid() {
		return ""
	}
	return entityTypeTable[t].segment
}

// ParseEntityType resolves a wire tag to its kind. Matching ignores case and
// surrounding whitespace. Returns ErrUnknownEntityType for anything else.
func ParseEntityType(tag string) (EntityType, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for i := 1; i < len(entityTypeTable); i++ {
		if entityTypeTable[i].tag == tag {
			return EntityType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEntityType, tag)
}

// ParseSegment resolves a storage path segment to its kind.
func ParseSegment(segment string) (EntityType, error) {
	for i := 1; i < len(entityTypeTable); i++ {
		if entityTypeTable[i].segment == segment {
			return EntityType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: segment %q", ErrUnknownEntityType, segment)
}

// EntityTypeTags returns the wire tags of every kind, for help and error text.
func EntityTypeTags() []string {
	tags := make([]string, 0, len(entityTypeTable)-1)
	for _, t := range AllEntityTypes() {
		tags = append(tags, t.String())
	}
	return tags
}

// MarshalText encodes the kind as its wire tag.
func (t EntityType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntityType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a wire tag.
func (t *EntityType) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

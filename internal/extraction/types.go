package extraction

import "context"

// EntityType enumerates the entity kinds the pipeline accepts. Anything else
// coming back from the extractor is skipped, never an error.
type EntityType string

const (
	TypePerson        EntityType = "person"
	TypeOrganization  EntityType = "organization"
	TypeLocation      EntityType = "location"
	TypeEvent         EntityType = "event"
	TypeDocument      EntityType = "document"
	TypeAccount       EntityType = "account"
	TypeAsset         EntityType = "asset"
	TypeCommunication EntityType = "communication"
)

var supportedTypes = map[EntityType]bool{
	TypePerson:        true,
	TypeOrganization:  true,
	TypeLocation:      true,
	TypeEvent:         true,
	TypeDocument:      true,
	TypeAccount:       true,
	TypeAsset:         true,
	TypeCommunication: true,
}

// EntityDraft is one entity descriptor inside an operation, before
// validation and store assignment.
type EntityDraft struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// Connection is a directed relationship between two entities of the same
// operation, addressed by position in that operation's entities list.
// The indices are local scope only; they are never global entity ids.
type Connection struct {
	From         int    `json:"from"`
	To           int    `json:"to"`
	Relationship string `json:"relationship"`
}

// Operation is one extraction result unit: a batch of entity creations plus
// relationships among only those entities.
type Operation struct {
	Action      string        `json:"action"`
	Entities    []EntityDraft `json:"entities"`
	Connections []Connection  `json:"connections"`
}

// Entity is a committed entity as the store reports it back.
type Entity struct {
	ID          string         `json:"id"`
	Type        EntityType     `json:"type"`
	Label       string         `json:"label"`
	Properties  map[string]any `json:"properties,omitempty"`
	LocationRef string         `json:"location_ref,omitempty"`
}

// EntityStore is the collaborator that owns entity persistence and
// deduplication. A create that resolves to an existing entity is a normal,
// non-error outcome.
type EntityStore interface {
	CreateEntity(ctx context.Context, typ EntityType, label string, props map[string]any) (Entity, error)
	AllEntities(ctx context.Context) ([]Entity, error)
	AddRelationship(ctx context.Context, fromID, toID, label string) error
}

// Result summarizes what one extraction call committed.
type Result struct {
	Created       []Entity
	Relationships int
	Operations    int
	Skipped       int
}

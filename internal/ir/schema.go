package ir

// GraphSchema describes one reconcilable graph: its collections and the
// order in which they must be synchronized.
type GraphSchema struct {
	Name        string             `json:"name"`
	Collections []CollectionSchema `json:"collections"`

	// Order lists collection names parents-first. Every collection appears
	// after every collection it references.
	Order []string `json:"order"`
}

// Collection returns the named collection and whether it exists.
func (g *GraphSchema) Collection(name string) (CollectionSchema, bool) {
	for _, c := range g.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionSchema{}, false
}

// CollectionSchema describes one level of a graph.
type CollectionSchema struct {
	Name string `json:"name"`

	// Singleton collections hold at most one record per scope.
	Singleton bool `json:"singleton,omitempty"`

	// Updatable restricts diffing and updates to these fields. Empty means
	// every field except those in Ignore.
	Updatable []string `json:"updatable,omitempty"`

	// Ignore lists derived or non-authoritative fields never diffed.
	Ignore []string `json:"ignore,omitempty"`

	// Creatable restricts the fields written on create. Empty means all.
	Creatable []string `json:"creatable,omitempty"`

	// Match lists natural-key fields used to pair records. Empty means
	// identity equality.
	Match []string `json:"match,omitempty"`

	// Refs maps a foreign-key field to the collection it points at.
	Refs map[string]string `json:"refs,omitempty"`

	// NoDeletions keeps unmatched existing records in place.
	NoDeletions bool `json:"no_deletions,omitempty"`
}

// RefFields returns the collection's foreign-key field names in canonical
// key order.
func (c CollectionSchema) RefFields() []string {
	keys := make(Object, len(c.Refs))
	for k := range c.Refs {
		keys[k] = Null{}
	}
	return keys.SortedKeys()
}

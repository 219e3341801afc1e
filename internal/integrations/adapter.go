// Package integrations defines the minimal interface for external item
// sources (municipal portals, bulk CSV drops) feeding the intake queue.
package integrations

// ItemRecord is a source-neutral item row prior to model mapping.
type ItemRecord struct {
	ExternalRef string
	SenderID    string
	CategoryID  string
	WeightKg    float64
	VolumeM3    float64
}

// ItemBatch is one page of records with an opaque continuation cursor.
type ItemBatch struct {
	Items  []ItemRecord
	Cursor string
}

// Source is an external item feed.
type Source interface {
	Name() string
	FetchItems(since string, cursor string) (ItemBatch, error)
	AckItems(refs []string) error
}

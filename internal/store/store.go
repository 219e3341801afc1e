package store

import (
	"context"
	"errors"

	"ecollect/internal/model"
)

// Store is the persistence interface used by the API server and the
// assignment/routing components. Implementations: Memory (dev/tests) and
// Postgres (DATABASE_URL).
type Store interface {
	// Items
	CreateItems(ctx context.Context, items []model.Item) (created int, err error)
	GetItems(ctx context.Context, ids []string) ([]model.Item, error)
	ListItems(ctx context.Context, status string, limit int) ([]model.Item, error)
	UpdateItems(ctx context.Context, items []model.Item) (updated int, err error)
	PendingItemsForPoint(ctx context.Context, pointID string) ([]model.Item, error)
	UpdateItemDistance(ctx context.Context, itemID string, km float64) error

	// Categories (one level of nesting)
	GetCategory(ctx context.Context, id string) (model.Category, error)
	PutCategory(ctx context.Context, c model.Category) error

	// Sender locations (geocoded once per sender)
	GetSenderLocation(ctx context.Context, senderID string) (model.SenderLocation, error)
	PutSenderLocation(ctx context.Context, loc model.SenderLocation) error

	// Companies and collection points
	ListCompanies(ctx context.Context, ids []string) ([]model.Company, error)
	PutCompany(ctx context.Context, c model.Company) error
	ListActivePoints(ctx context.Context) ([]model.CollectionPoint, error)
	GetPoint(ctx context.Context, id string) (model.CollectionPoint, error)
	PutPoint(ctx context.Context, p model.CollectionPoint) error

	// Vehicles
	ListVehiclesForPoint(ctx context.Context, pointID string) ([]model.Vehicle, error)
	PutVehicle(ctx context.Context, v model.Vehicle) error
	SetVehicleStatus(ctx context.Context, id, status string) error

	// Status history and notifications
	AppendStatusHistory(ctx context.Context, recs []model.StatusHistory) error
	SaveNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)

	// Three-tier configuration entries
	GetConfigEntries(ctx context.Context, key string) ([]model.ConfigEntry, error)
	PutConfigEntry(ctx context.Context, e model.ConfigEntry) error

	// Background jobs
	CreateJob(ctx context.Context, j model.Job) error
	UpdateJob(ctx context.Context, j model.Job) error
	GetJob(ctx context.Context, id string) (model.Job, error)

	// Collection groups (persisted routes)
	SaveCollectionGroup(ctx context.Context, g model.CollectionGroup) error
	ListCollectionGroups(ctx context.Context, pointID, date string) ([]model.CollectionGroup, error)
}

var ErrNotFound = errors.New("not found")

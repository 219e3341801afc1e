package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ecollect/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	items     map[string]model.Item
	itemOrder []string
	cats      map[string]model.Category
	senders   map[string]model.SenderLocation
	companies map[string]model.Company
	compOrder []string
	points    map[string]model.CollectionPoint
	ptOrder   []string
	vehicles  map[string]model.Vehicle
	vehOrder  []string
	history   []model.StatusHistory
	notifs    map[string][]model.Notification
	config    []model.ConfigEntry
	jobs      map[string]model.Job
	groups    []model.CollectionGroup
}

func NewMemory() *Memory {
	return &Memory{
		items:     map[string]model.Item{},
		cats:      map[string]model.Category{},
		senders:   map[string]model.SenderLocation{},
		companies: map[string]model.Company{},
		points:    map[string]model.CollectionPoint{},
		vehicles:  map[string]model.Vehicle{},
		notifs:    map[string][]model.Notification{},
		jobs:      map[string]model.Job{},
	}
}

func (m *Memory) CreateItems(ctx context.Context, items []model.Item) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.Status == "" {
			it.Status = model.ItemAwaitingAssignment
		}
		if _, ok := m.items[it.ID]; !ok {
			m.itemOrder = append(m.itemOrder, it.ID)
		}
		m.items[it.ID] = it
		created++
	}
	return created, nil
}

func (m *Memory) GetItems(ctx context.Context, ids []string) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) ListItems(ctx context.Context, status string, limit int) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []model.Item{}
	for _, id := range m.itemOrder {
		it := m.items[id]
		if status == "" || it.Status == status {
			out = append(out, it)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) UpdateItems(ctx context.Context, items []model.Item) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := 0
	for _, it := range items {
		if _, ok := m.items[it.ID]; !ok {
			continue
		}
		m.items[it.ID] = it
		updated++
	}
	return updated, nil
}

func (m *Memory) PendingItemsForPoint(ctx context.Context, pointID string) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Item{}
	for _, id := range m.itemOrder {
		it := m.items[id]
		if it.PointID == pointID && it.Status == model.ItemAwaitingGrouping {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) UpdateItemDistance(ctx context.Context, itemID string, km float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.DistanceKm = km
	m.items[itemID] = it
	return nil
}

func (m *Memory) GetCategory(ctx context.Context, id string) (model.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cats[id]
	if !ok {
		return model.Category{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) PutCategory(ctx context.Context, c model.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cats[c.ID] = c
	return nil
}

func (m *Memory) GetSenderLocation(ctx context.Context, senderID string) (model.SenderLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.senders[senderID]
	if !ok {
		return model.SenderLocation{}, ErrNotFound
	}
	return l, nil
}

func (m *Memory) PutSenderLocation(ctx context.Context, loc model.SenderLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders[loc.SenderID] = loc
	return nil
}

func (m *Memory) ListCompanies(ctx context.Context, ids []string) ([]model.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 {
		out := make([]model.Company, 0, len(m.compOrder))
		for _, id := range m.compOrder {
			out = append(out, m.companies[id])
		}
		return out, nil
	}
	out := make([]model.Company, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.companies[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) PutCompany(ctx context.Context, c model.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, ok := m.companies[c.ID]; !ok {
		m.compOrder = append(m.compOrder, c.ID)
	}
	m.companies[c.ID] = c
	return nil
}

func (m *Memory) ListActivePoints(ctx context.Context) ([]model.CollectionPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CollectionPoint{}
	for _, id := range m.ptOrder {
		p := m.points[id]
		if p.Status == model.StatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) GetPoint(ctx context.Context, id string) (model.CollectionPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[id]
	if !ok {
		return model.CollectionPoint{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) PutPoint(ctx context.Context, p model.CollectionPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.StatusActive
	}
	if _, ok := m.points[p.ID]; !ok {
		m.ptOrder = append(m.ptOrder, p.ID)
	}
	m.points[p.ID] = p
	return nil
}

func (m *Memory) ListVehiclesForPoint(ctx context.Context, pointID string) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Vehicle{}
	for _, id := range m.vehOrder {
		v := m.vehicles[id]
		if v.PointID == pointID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) PutVehicle(ctx context.Context, v model.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = model.StatusActive
	}
	if _, ok := m.vehicles[v.ID]; !ok {
		m.vehOrder = append(m.vehOrder, v.ID)
	}
	m.vehicles[v.ID] = v
	return nil
}

func (m *Memory) SetVehicleStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	m.vehicles[id] = v
	return nil
}

func (m *Memory) AppendStatusHistory(ctx context.Context, recs []model.StatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		m.history = append(m.history, r)
	}
	return nil
}

func (m *Memory) SaveNotification(ctx context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.notifs[n.UserID] = append(m.notifs[n.UserID], n)
	return nil
}

func (m *Memory) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.notifs[userID]
	if limit > 0 && len(ns) > limit {
		ns = ns[len(ns)-limit:]
	}
	out := make([]model.Notification, len(ns))
	copy(out, ns)
	return out, nil
}

func (m *Memory) GetConfigEntries(ctx context.Context, key string) ([]model.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ConfigEntry{}
	for _, e := range m.config {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) PutConfigEntry(ctx context.Context, e model.ConfigEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.config {
		if cur.Key == e.Key && cur.CompanyID == e.CompanyID && cur.PointID == e.PointID {
			m.config[i] = e
			return nil
		}
	}
	m.config = append(m.config, e)
	return nil
}

func (m *Memory) CreateJob(ctx context.Context, j model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) UpdateJob(ctx context.Context, j model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *Memory) SaveCollectionGroup(ctx context.Context, g model.CollectionGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	m.groups = append(m.groups, g)
	return nil
}

func (m *Memory) ListCollectionGroups(ctx context.Context, pointID, date string) ([]model.CollectionGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CollectionGroup{}
	for _, g := range m.groups {
		if (pointID == "" || g.PointID == pointID) && (date == "" || g.Date == date) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

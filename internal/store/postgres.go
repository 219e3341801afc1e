package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ecollect/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies every .sql file in dir in lexical order. Dev helper;
// statements are expected to be idempotent (CREATE TABLE IF NOT EXISTS).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateItems(ctx context.Context, items []model.Item) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	created := 0
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.Status == "" {
			it.Status = model.ItemAwaitingAssignment
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO items
			(id, sender_id, category_id, weight_kg, volume_m3, length_cm, width_cm, height_cm, status, point_id, company_id, assigned_at, distance_km, schedule)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			it.ID, it.SenderID, it.CategoryID, it.WeightKg, it.VolumeM3, it.LengthCm, it.WidthCm, it.HeightCm,
			it.Status, nullIfEmpty(it.PointID), nullIfEmpty(it.CompanyID), nullIfEmpty(it.AssignedAt), it.DistanceKm, nullRaw(it.Schedule))
		if err != nil {
			return 0, err
		}
		created++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

const itemCols = `id, sender_id, category_id, weight_kg, volume_m3, length_cm, width_cm, height_cm,
	status, COALESCE(point_id,''), COALESCE(company_id,''), COALESCE(assigned_at,''), distance_km, schedule`

func scanItem(rows interface{ Scan(...any) error }) (model.Item, error) {
	var it model.Item
	var sched []byte
	err := rows.Scan(&it.ID, &it.SenderID, &it.CategoryID, &it.WeightKg, &it.VolumeM3, &it.LengthCm, &it.WidthCm, &it.HeightCm,
		&it.Status, &it.PointID, &it.CompanyID, &it.AssignedAt, &it.DistanceKm, &sched)
	if len(sched) > 0 {
		it.Schedule = json.RawMessage(sched)
	}
	return it, err
}

func (p *Postgres) GetItems(ctx context.Context, ids []string) ([]model.Item, error) {
	out := []model.Item{}
	for _, id := range ids {
		row := p.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, id)
		it, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (p *Postgres) ListItems(ctx context.Context, status string, limit int) ([]model.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+itemCols+` FROM items
		WHERE ($1 = '' OR status=$1) ORDER BY created_at LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateItems(ctx context.Context, items []model.Item) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	updated := 0
	for _, it := range items {
		res, err := tx.ExecContext(ctx, `UPDATE items SET status=$2, point_id=$3, company_id=$4, assigned_at=$5, distance_km=$6 WHERE id=$1`,
			it.ID, it.Status, nullIfEmpty(it.PointID), nullIfEmpty(it.CompanyID), nullIfEmpty(it.AssignedAt), it.DistanceKm)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return updated, nil
}

func (p *Postgres) PendingItemsForPoint(ctx context.Context, pointID string) ([]model.Item, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+itemCols+` FROM items WHERE point_id=$1 AND status=$2 ORDER BY created_at`,
		pointID, model.ItemAwaitingGrouping)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateItemDistance(ctx context.Context, itemID string, km float64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE items SET distance_km=$2 WHERE id=$1`, itemID, km)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetCategory(ctx context.Context, id string) (model.Category, error) {
	var c model.Category
	err := p.db.QueryRowContext(ctx, `SELECT id, name, COALESCE(parent_id,'') FROM categories WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Category{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) PutCategory(ctx context.Context, c model.Category) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO categories (id, name, parent_id) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, parent_id=EXCLUDED.parent_id`,
		c.ID, c.Name, nullIfEmpty(c.ParentID))
	return err
}

func (p *Postgres) GetSenderLocation(ctx context.Context, senderID string) (model.SenderLocation, error) {
	var l model.SenderLocation
	err := p.db.QueryRowContext(ctx, `SELECT sender_id, address, lat, lng FROM sender_locations WHERE sender_id=$1`, senderID).
		Scan(&l.SenderID, &l.Address, &l.Location.Lat, &l.Location.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SenderLocation{}, ErrNotFound
	}
	return l, err
}

func (p *Postgres) PutSenderLocation(ctx context.Context, loc model.SenderLocation) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO sender_locations (sender_id, address, lat, lng) VALUES ($1,$2,$3,$4)
		ON CONFLICT (sender_id) DO UPDATE SET address=EXCLUDED.address, lat=EXCLUDED.lat, lng=EXCLUDED.lng`,
		loc.SenderID, loc.Address, loc.Location.Lat, loc.Location.Lng)
	return err
}

func (p *Postgres) ListCompanies(ctx context.Context, ids []string) ([]model.Company, error) {
	q := `SELECT id, name, role, ratio, root_categories, COALESCE(admin_user_id,'') FROM companies ORDER BY created_at`
	args := []any{}
	if len(ids) > 0 {
		q = `SELECT id, name, role, ratio, root_categories, COALESCE(admin_user_id,'') FROM companies WHERE id = ANY($1) ORDER BY created_at`
		args = append(args, ids)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Company{}
	for rows.Next() {
		var c model.Company
		var roots []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Role, &c.Ratio, &roots, &c.AdminUserID); err != nil {
			return nil, err
		}
		if len(roots) > 0 {
			_ = json.Unmarshal(roots, &c.RootCategories)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) PutCompany(ctx context.Context, c model.Company) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	roots, _ := json.Marshal(c.RootCategories)
	_, err := p.db.ExecContext(ctx, `INSERT INTO companies (id, name, role, ratio, root_categories, admin_user_id) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, role=EXCLUDED.role, ratio=EXCLUDED.ratio, root_categories=EXCLUDED.root_categories, admin_user_id=EXCLUDED.admin_user_id`,
		c.ID, c.Name, c.Role, c.Ratio, roots, nullIfEmpty(c.AdminUserID))
	return err
}

func (p *Postgres) ListActivePoints(ctx context.Context) ([]model.CollectionPoint, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, company_id, name, lat, lng, radius_km, status, COALESCE(admin_user_id,'')
		FROM collection_points WHERE status=$1 ORDER BY created_at`, model.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CollectionPoint{}
	for rows.Next() {
		var cp model.CollectionPoint
		if err := rows.Scan(&cp.ID, &cp.CompanyID, &cp.Name, &cp.Location.Lat, &cp.Location.Lng, &cp.RadiusKm, &cp.Status, &cp.AdminUserID); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (p *Postgres) GetPoint(ctx context.Context, id string) (model.CollectionPoint, error) {
	var cp model.CollectionPoint
	err := p.db.QueryRowContext(ctx, `SELECT id, company_id, name, lat, lng, radius_km, status, COALESCE(admin_user_id,'')
		FROM collection_points WHERE id=$1`, id).
		Scan(&cp.ID, &cp.CompanyID, &cp.Name, &cp.Location.Lat, &cp.Location.Lng, &cp.RadiusKm, &cp.Status, &cp.AdminUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CollectionPoint{}, ErrNotFound
	}
	return cp, err
}

func (p *Postgres) PutPoint(ctx context.Context, cp model.CollectionPoint) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.Status == "" {
		cp.Status = model.StatusActive
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO collection_points (id, company_id, name, lat, lng, radius_km, status, admin_user_id) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, lat=EXCLUDED.lat, lng=EXCLUDED.lng, radius_km=EXCLUDED.radius_km, status=EXCLUDED.status, admin_user_id=EXCLUDED.admin_user_id`,
		cp.ID, cp.CompanyID, cp.Name, cp.Location.Lat, cp.Location.Lng, cp.RadiusKm, cp.Status, nullIfEmpty(cp.AdminUserID))
	return err
}

func (p *Postgres) ListVehiclesForPoint(ctx context.Context, pointID string) ([]model.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, point_id, COALESCE(plate,''), capacity_kg, capacity_m3, shift_start, shift_end, status
		FROM vehicles WHERE point_id=$1 ORDER BY created_at`, pointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Vehicle{}
	for rows.Next() {
		var v model.Vehicle
		if err := rows.Scan(&v.ID, &v.PointID, &v.Plate, &v.CapacityKg, &v.CapacityM3, &v.ShiftStart, &v.ShiftEnd, &v.Status); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) PutVehicle(ctx context.Context, v model.Vehicle) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = model.StatusActive
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO vehicles (id, point_id, plate, capacity_kg, capacity_m3, shift_start, shift_end, status) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET plate=EXCLUDED.plate, capacity_kg=EXCLUDED.capacity_kg, capacity_m3=EXCLUDED.capacity_m3, shift_start=EXCLUDED.shift_start, shift_end=EXCLUDED.shift_end, status=EXCLUDED.status`,
		v.ID, v.PointID, nullIfEmpty(v.Plate), v.CapacityKg, v.CapacityM3, v.ShiftStart, v.ShiftEnd, v.Status)
	return err
}

func (p *Postgres) SetVehicleStatus(ctx context.Context, id, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE vehicles SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendStatusHistory(ctx context.Context, recs []model.StatusHistory) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range recs {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO status_history (id, item_id, status, note, created_at) VALUES ($1,$2,$3,$4,$5)`,
			r.ID, r.ItemID, r.Status, nullIfEmpty(r.Note), r.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) SaveNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	payload, _ := json.Marshal(n.Payload)
	_, err := p.db.ExecContext(ctx, `INSERT INTO notifications (id, user_id, title, message, kind, payload, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		n.ID, n.UserID, n.Title, n.Message, n.Kind, payload, n.CreatedAt)
	return err
}

func (p *Postgres) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, user_id, title, message, kind, payload, created_at
		FROM notifications WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Kind, &payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &n.Payload)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) GetConfigEntries(ctx context.Context, key string) ([]model.ConfigEntry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, COALESCE(company_id,''), COALESCE(point_id,''), value FROM config_entries WHERE key=$1`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ConfigEntry{}
	for rows.Next() {
		var e model.ConfigEntry
		if err := rows.Scan(&e.Key, &e.CompanyID, &e.PointID, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) PutConfigEntry(ctx context.Context, e model.ConfigEntry) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO config_entries (key, company_id, point_id, value) VALUES ($1,$2,$3,$4)
		ON CONFLICT (key, company_id, point_id) DO UPDATE SET value=EXCLUDED.value`,
		e.Key, e.CompanyID, e.PointID, e.Value)
	return err
}

func (p *Postgres) CreateJob(ctx context.Context, j model.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	result, _ := json.Marshal(j.Result)
	_, err := p.db.ExecContext(ctx, `INSERT INTO jobs (id, status, user_id, result, error, created_at, finished_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		j.ID, j.Status, nullIfEmpty(j.UserID), result, nullIfEmpty(j.Error), j.CreatedAt, j.FinishedAt)
	return err
}

func (p *Postgres) UpdateJob(ctx context.Context, j model.Job) error {
	result, _ := json.Marshal(j.Result)
	res, err := p.db.ExecContext(ctx, `UPDATE jobs SET status=$2, result=$3, error=$4, finished_at=$5 WHERE id=$1`,
		j.ID, j.Status, result, nullIfEmpty(j.Error), j.FinishedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (model.Job, error) {
	var j model.Job
	var result []byte
	err := p.db.QueryRowContext(ctx, `SELECT id, status, COALESCE(user_id,''), result, COALESCE(error,''), created_at, finished_at FROM jobs WHERE id=$1`, id).
		Scan(&j.ID, &j.Status, &j.UserID, &result, &j.Error, &j.CreatedAt, &j.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	if err != nil {
		return model.Job{}, err
	}
	if len(result) > 0 && string(result) != "null" {
		j.Result = &model.AssignmentResult{}
		_ = json.Unmarshal(result, j.Result)
	}
	return j, nil
}

func (p *Postgres) SaveCollectionGroup(ctx context.Context, g model.CollectionGroup) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	stops, _ := json.Marshal(g.Stops)
	_, err := p.db.ExecContext(ctx, `INSERT INTO collection_groups (id, vehicle_id, point_id, date, stops, total_km, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		g.ID, g.VehicleID, g.PointID, g.Date, stops, g.TotalKm, g.CreatedAt)
	return err
}

func (p *Postgres) ListCollectionGroups(ctx context.Context, pointID, date string) ([]model.CollectionGroup, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, vehicle_id, point_id, date, stops, total_km, created_at FROM collection_groups
		WHERE ($1='' OR point_id=$1) AND ($2='' OR date=$2) ORDER BY created_at`, pointID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CollectionGroup{}
	for rows.Next() {
		var g model.CollectionGroup
		var stops []byte
		if err := rows.Scan(&g.ID, &g.VehicleID, &g.PointID, &g.Date, &stops, &g.TotalKm, &g.CreatedAt); err != nil {
			return nil, err
		}
		if len(stops) > 0 {
			_ = json.Unmarshal(stops, &g.Stops)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

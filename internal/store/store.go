// Package store persists shelf scans in SQLite and derives stock levels from
// the latest scan of every shelf.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
	"github.com/MeKo-Tech/omnishelf/internal/detection"
)

// DefaultShelfID is used when a scan names no shelf.
const DefaultShelfID = "shelf_scan"

// Level is a coarse stock level.
type Level string

const (
	LevelOut    Level = "OUT"
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// StockLevel grades count against the planogram target. Without a target
// fixed facing counts are used.
func StockLevel(count, expected int) Level {
	if count <= 0 {
		return LevelOut
	}
	if expected > 0 {
		ratio := float64(count) / float64(expected)
		switch {
		case ratio >= 0.75:
			return LevelHigh
		case ratio >= 0.4:
			return LevelMedium
		default:
			return LevelLow
		}
	}
	switch {
	case count >= 15:
		return LevelHigh
	case count >= 6:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Scan describes one saved detection run.
type Scan struct {
	SessionID  string    `json:"session_id"`
	ShelfID    string    `json:"shelf_id"`
	ScannedAt  time.Time `json:"scanned_at"`
	Detections int       `json:"detections"`
}

// StoredDetection is a persisted classified detection.
type StoredDetection struct {
	ProductCode string    `json:"product_code"`
	ProductName string    `json:"product_name"`
	Confidence  float64   `json:"confidence"`
	X1          float64   `json:"x1"`
	Y1          float64   `json:"y1"`
	X2          float64   `json:"x2"`
	Y2          float64   `json:"y2"`
	Status      string    `json:"verification_status"`
	ShelfID     string    `json:"shelf_id"`
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// ProductStock is the current stock of one product across all shelves.
type ProductStock struct {
	Code           string    `json:"product_code"`
	Name           string    `json:"product_name"`
	Category       string    `json:"category"`
	TotalCount     int       `json:"total_count"`
	ExpectedCount  int       `json:"expected_count,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
	Level          Level     `json:"stock_level"`
	UnitPrice      float64   `json:"unit_price"`
	InventoryValue float64   `json:"inventory_value"`
}

// Store wraps the SQLite connection with serialized writes.
type Store struct {
	conn    *sql.DB
	mu      sync.RWMutex
	catalog *catalog.Catalog
}

// Open creates or opens the database at path. A nil catalog uses the
// built-in one.
func Open(path string, cat *catalog.Catalog) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: empty database path")
	}
	if cat == nil {
		cat = catalog.Default()
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn, catalog: cat}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		session_id TEXT PRIMARY KEY,
		shelf_id TEXT NOT NULL DEFAULT 'shelf_scan',
		scanned_at INTEGER NOT NULL,
		detections INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS product_detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_code TEXT NOT NULL,
		product_name TEXT NOT NULL,
		confidence REAL DEFAULT 0,
		x1 REAL DEFAULT 0,
		y1 REAL DEFAULT 0,
		x2 REAL DEFAULT 0,
		y2 REAL DEFAULT 0,
		verification_status TEXT NOT NULL DEFAULT 'unverified',
		shelf_id TEXT NOT NULL DEFAULT 'shelf_scan',
		session_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES scans(session_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS stock_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_code TEXT NOT NULL,
		product_name TEXT NOT NULL,
		count INTEGER NOT NULL,
		shelf_id TEXT NOT NULL DEFAULT 'shelf_scan',
		session_id TEXT NOT NULL,
		snapshot_time INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scans_shelf ON scans(shelf_id, scanned_at);
	CREATE INDEX IF NOT EXISTS idx_detections_session ON product_detections(session_id);
	CREATE INDEX IF NOT EXISTS idx_detections_product ON product_detections(product_code);
	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON stock_snapshots(session_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_product ON stock_snapshots(product_code);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// SaveScan persists the classified detections of one run under a new
// session id together with a stock snapshot per product. Unclassified
// detections are skipped.
func (s *Store) SaveScan(ctx context.Context, shelfID string, dets []detection.Detection, at time.Time) (Scan, error) {
	if shelfID == "" {
		shelfID = DefaultShelfID
	}
	if at.IsZero() {
		at = time.Now()
	}
	scan := Scan{SessionID: uuid.NewString(), ShelfID: shelfID, ScannedAt: at.UTC()}
	ts := at.UnixNano()

	type tally struct {
		name  string
		count int
	}
	counts := make(map[string]*tally)
	var order []string
	for _, d := range dets {
		if !d.Classified() {
			continue
		}
		t, ok := counts[d.ProductCode]
		if !ok {
			t = &tally{name: d.DisplayName}
			counts[d.ProductCode] = t
			order = append(order, d.ProductCode)
		}
		t.count++
		scan.Detections++
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return Scan{}, fmt.Errorf("begin scan: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scans (session_id, shelf_id, scanned_at, detections) VALUES (?, ?, ?, ?)`,
		scan.SessionID, shelfID, ts, scan.Detections); err != nil {
		return Scan{}, fmt.Errorf("insert scan: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO product_detections
			(product_code, product_name, confidence, x1, y1, x2, y2, verification_status, shelf_id, session_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Scan{}, fmt.Errorf("prepare detection insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, d := range dets {
		if !d.Classified() {
			continue
		}
		b := d.Region.Box
		if _, err := stmt.ExecContext(ctx, d.ProductCode, d.DisplayName, d.Confidence,
			b.MinX, b.MinY, b.MaxX, b.MaxY, string(d.VerificationStatus),
			shelfID, scan.SessionID, ts); err != nil {
			return Scan{}, fmt.Errorf("insert detection: %w", err)
		}
	}

	for _, code := range order {
		t := counts[code]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_snapshots (product_code, product_name, count, shelf_id, session_id, snapshot_time)
			VALUES (?, ?, ?, ?, ?, ?)`,
			code, t.name, t.count, shelfID, scan.SessionID, ts); err != nil {
			return Scan{}, fmt.Errorf("insert snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Scan{}, fmt.Errorf("commit scan: %w", err)
	}
	return scan, nil
}

// Detections returns the stored detections of one session in insertion order.
func (s *Store) Detections(ctx context.Context, sessionID string) ([]StoredDetection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT product_code, product_name, confidence, x1, y1, x2, y2,
		       verification_status, shelf_id, session_id, timestamp
		FROM product_detections WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredDetection
	for rows.Next() {
		var d StoredDetection
		var ts int64
		if err := rows.Scan(&d.ProductCode, &d.ProductName, &d.Confidence,
			&d.X1, &d.Y1, &d.X2, &d.Y2, &d.Status, &d.ShelfID, &d.SessionID, &ts); err != nil {
			return nil, err
		}
		d.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// Scans returns the most recent scans, newest first.
func (s *Store) Scans(ctx context.Context, limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT session_id, shelf_id, scanned_at, detections
		FROM scans ORDER BY scanned_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Scan
	for rows.Next() {
		var sc Scan
		var ts int64
		if err := rows.Scan(&sc.SessionID, &sc.ShelfID, &ts, &sc.Detections); err != nil {
			return nil, err
		}
		sc.ScannedAt = time.Unix(0, ts).UTC()
		out = append(out, sc)
	}
	return out, rows.Err()
}

// StockSummary reports every product ever seen. The current count sums the
// latest scan of each shelf, so a product missing from those scans is OUT.
// Results are sorted by product name.
func (s *Store) StockSummary(ctx context.Context) ([]ProductStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make(map[string]*ProductStock)

	rows, err := s.conn.QueryContext(ctx, `
		SELECT product_code, MAX(product_name), MAX(snapshot_time)
		FROM stock_snapshots GROUP BY product_code`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	for rows.Next() {
		var code, name string
		var last int64
		if err := rows.Scan(&code, &name, &last); err != nil {
			_ = rows.Close()
			return nil, err
		}
		products[code] = &ProductStock{Code: code, Name: name, LastSeen: time.Unix(0, last).UTC()}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = s.conn.QueryContext(ctx, `
		WITH latest AS (
			SELECT sc.session_id FROM scans sc
			WHERE sc.scanned_at = (SELECT MAX(scanned_at) FROM scans WHERE shelf_id = sc.shelf_id)
		)
		SELECT product_code, SUM(count) FROM stock_snapshots
		WHERE session_id IN (SELECT session_id FROM latest)
		GROUP BY product_code`)
	if err != nil {
		return nil, fmt.Errorf("query current stock: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var code string
		var count int
		if err := rows.Scan(&code, &count); err != nil {
			return nil, err
		}
		if p, ok := products[code]; ok {
			p.TotalCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ProductStock, 0, len(products))
	for code, p := range products {
		entry := s.catalog.Resolve(code)
		if entry.DisplayName != code {
			p.Name = entry.DisplayName
		}
		p.Category = entry.Category
		p.UnitPrice = entry.UnitPrice
		p.ExpectedCount = entry.ExpectedCount
		p.Level = StockLevel(p.TotalCount, p.ExpectedCount)
		p.InventoryValue = float64(p.TotalCount) * p.UnitPrice
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// TotalValue sums the inventory value of a summary.
func TotalValue(stock []ProductStock) float64 {
	var total float64
	for _, p := range stock {
		total += p.InventoryValue
	}
	return total
}

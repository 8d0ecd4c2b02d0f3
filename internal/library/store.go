package library

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/pocvault/internal/fault"
)

const (
	dbFileName     = "library.db"
	defaultLimit   = 50
	maxLimit       = 500
	recentUseCount = 5
)

// subdirFor maps a kind to its content-store subdirectory.
func subdirFor(kind Kind) string {
	switch kind {
	case KindScript:
		return "scripts"
	case KindTemplate:
		return "templates"
	default:
		return "manual"
	}
}

func extFor(kind Kind) string {
	switch kind {
	case KindScript:
		return ".wasm"
	case KindTemplate:
		return ".yaml"
	default:
		return ".json"
	}
}

// Store owns the catalog database and the content store rooted at baseDir.
// A single SQLite connection serializes writers; readers share it through
// the driver's busy handling.
type Store struct {
	db      *sql.DB
	baseDir string
	logger  *slog.Logger
}

// Open initializes the content-store layout under baseDir, opens the catalog
// database, and applies schema migrations.
func Open(ctx context.Context, baseDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, sub := range []string{"scripts", "templates", "manual", "metadata"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create content dir %s: %w", sub, err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", filepath.Join(baseDir, dbFileName))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, baseDir: baseDir, logger: logger}
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BaseDir returns the content-store root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			label TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL CHECK (kind IN ('script','template','manual')),
			content_path TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_used_at DATETIME,
			tags TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			automatable INTEGER NOT NULL DEFAULT 1,
			manual_procedure TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_checks_category ON checks(category);
		CREATE INDEX IF NOT EXISTS idx_checks_kind ON checks(kind);
		CREATE INDEX IF NOT EXISTS idx_checks_created_at ON checks(created_at);
		CREATE INDEX IF NOT EXISTS idx_checks_automatable ON checks(automatable);
	`); err != nil {
		return fmt.Errorf("create checks schema: %w", err)
	}

	// Databases created before the manual-procedure feature lack two columns;
	// backfill them in place.
	for _, alter := range []string{
		"ALTER TABLE checks ADD COLUMN automatable INTEGER NOT NULL DEFAULT 1",
		"ALTER TABLE checks ADD COLUMN manual_procedure TEXT",
	} {
		if _, err := tx.ExecContext(ctx, alter); err != nil && !isDuplicateColumn(err) {
			return fmt.Errorf("migrate checks schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

// Save validates req, writes the payload (and sidecar for runnable kinds) to
// the content store, then inserts the catalog row. If the insert fails, the
// files written for it are removed so the store never holds orphans from a
// failed save.
func (s *Store) Save(ctx context.Context, req SaveRequest) (*CheckRecord, error) {
	if err := validateSave(&req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if req.Label == "" {
		req.Label = fmt.Sprintf("%s_%s", req.Category, now.Format("20060102_150405"))
	}

	payload := []byte(req.Content)
	if req.Kind == KindManual {
		var err error
		payload, err = json.MarshalIndent(req.Manual, "", "  ")
		if err != nil {
			return nil, fault.Wrap(fault.KindStorageFailure, err, "encode manual procedure")
		}
	}
	base, contentPath, err := s.createContent(req.Kind, fileBase(req.Category, req.Description, now), payload)
	if err != nil {
		return nil, err
	}
	written := []string{contentPath}

	// Runnable artifacts carry a sidecar describing what the payload is for,
	// so the content store stays interpretable without the database.
	if req.Kind != KindManual {
		sidecar := filepath.Join(s.baseDir, "metadata", base+".json")
		doc := map[string]any{
			"category":    req.Category,
			"label":       req.Label,
			"description": req.Description,
			"tags":        req.Tags,
			"metadata":    req.Metadata,
			"created_at":  now.Format(time.RFC3339),
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err == nil {
			err = os.WriteFile(sidecar, data, 0o644)
		}
		if err != nil {
			removeAll(written)
			return nil, fault.Wrap(fault.KindStorageFailure, err, "write sidecar %s", sidecar)
		}
		written = append(written, sidecar)
	}

	tags, err := json.Marshal(req.Tags)
	if err != nil {
		removeAll(written)
		return nil, fault.Wrap(fault.KindStorageFailure, err, "encode tags")
	}
	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		removeAll(written)
		return nil, fault.Wrap(fault.KindStorageFailure, err, "encode metadata")
	}
	var manualJSON sql.NullString
	if req.Manual != nil {
		data, err := json.Marshal(req.Manual)
		if err != nil {
			removeAll(written)
			return nil, fault.Wrap(fault.KindStorageFailure, err, "encode manual procedure")
		}
		manualJSON = sql.NullString{String: string(data), Valid: true}
	}

	var id int64
	err = retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO checks (category, label, description, kind, content_path, created_at, tags, metadata, automatable, manual_procedure)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			req.Category, req.Label, req.Description, string(req.Kind), contentPath, now,
			string(tags), string(meta), req.Automatable, manualJSON)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		removeAll(written)
		return nil, fault.Wrap(fault.KindStorageFailure, err, "insert check row")
	}

	s.logger.Info("check saved",
		"check_id", id,
		"category", req.Category,
		"kind", string(req.Kind),
		"automatable", req.Automatable,
		"content_path", contentPath)

	return s.Get(ctx, id)
}

func validateSave(req *SaveRequest) error {
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	req.Label = strings.TrimSpace(req.Label)
	if req.Category == "" {
		return fault.New(fault.KindValidation, "category is required")
	}
	if req.Description == "" {
		return fault.New(fault.KindValidation, "description is required")
	}
	if req.Automatable {
		if req.Kind == KindManual {
			return fault.New(fault.KindValidation, "automatable check cannot have kind %q", KindManual)
		}
		if !req.Kind.Valid() {
			return fault.New(fault.KindValidation, "unknown kind %q", req.Kind)
		}
		if strings.TrimSpace(req.Content) == "" {
			return fault.New(fault.KindValidation, "automatable check requires content")
		}
		if req.Manual != nil {
			return fault.New(fault.KindValidation, "automatable check cannot carry a manual procedure")
		}
		return nil
	}
	if req.Manual == nil {
		return fault.New(fault.KindValidation, "non-automatable check requires a manual procedure")
	}
	if len(req.Manual.Steps) == 0 {
		return fault.New(fault.KindValidation, "manual procedure requires at least one step")
	}
	if req.Content != "" {
		return fault.New(fault.KindValidation, "non-automatable check cannot carry content")
	}
	req.Kind = KindManual
	return nil
}

// fileBase builds the content filename stem: category, UTC timestamp, and a
// short hash of the description to disambiguate same-second saves.
func fileBase(category, description string, now time.Time) string {
	sum := sha256.Sum256([]byte(description))
	return fmt.Sprintf("%s_%s_%x", sanitizeCategory(category), now.Format("20060102_150405"), sum[:3])
}

// createContent writes the payload under an exclusive create so two saves of
// the same request in the same second cannot share a file. On collision the
// stem grows a numeric suffix; the returned stem is the one actually used, so
// the sidecar stays paired with its payload.
func (s *Store) createContent(kind Kind, stem string, payload []byte) (string, string, error) {
	for attempt := 0; attempt <= 99; attempt++ {
		base := stem
		if attempt > 0 {
			base = fmt.Sprintf("%s_%02d", stem, attempt)
		}
		path := filepath.Join(s.baseDir, subdirFor(kind), base+extFor(kind))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", "", fault.Wrap(fault.KindStorageFailure, err, "write content %s", path)
		}
		_, werr := f.Write(payload)
		cerr := f.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(path)
			return "", "", fault.Wrap(fault.KindStorageFailure, werr, "write content %s", path)
		}
		return base, path, nil
	}
	return "", "", fault.New(fault.KindStorageFailure, "content name %s exhausted", stem)
}

func sanitizeCategory(category string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(category) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

const recordColumns = `id, category, label, description, kind, content_path, created_at, last_used_at, tags, metadata, automatable, manual_procedure`

// Get returns the record with the given id, or (nil, nil) when no such row
// exists.
func (s *Store) Get(ctx context.Context, id int64) (*CheckRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM checks WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageFailure, err, "load check %d", id)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*CheckRecord, error) {
	var (
		rec        CheckRecord
		kind       string
		lastUsed   sql.NullTime
		tagsJSON   string
		metaJSON   string
		manualJSON sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Category, &rec.Label, &rec.Description, &kind,
		&rec.ContentPath, &rec.CreatedAt, &lastUsed, &tagsJSON, &metaJSON,
		&rec.Automatable, &manualJSON)
	if err != nil {
		return nil, err
	}
	rec.Kind = Kind(kind)
	if lastUsed.Valid {
		t := lastUsed.Time
		rec.LastUsedAt = &t
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for check %d: %w", rec.ID, err)
		}
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for check %d: %w", rec.ID, err)
		}
	}
	if manualJSON.Valid && manualJSON.String != "" {
		rec.Manual = &ManualProcedure{}
		if err := json.Unmarshal([]byte(manualJSON.String), rec.Manual); err != nil {
			return nil, fmt.Errorf("decode manual procedure for check %d: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// Search returns records matching every supplied predicate, newest first.
func (s *Store) Search(ctx context.Context, f Filter) ([]CheckRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		where = append(where, "category = ? COLLATE NOCASE")
		args = append(args, f.Category)
	}
	if f.Kind != "" {
		if !f.Kind.Valid() {
			return nil, fault.New(fault.KindValidation, "unknown kind %q", f.Kind)
		}
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Keyword != "" {
		pattern := "%" + escapeLike(f.Keyword) + "%"
		where = append(where, `(label LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if f.Automatable != nil {
		where = append(where, "automatable = ?")
		args = append(args, *f.Automatable)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + recordColumns + ` FROM checks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageFailure, err, "search checks")
	}
	defer rows.Close()

	var out []CheckRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fault.Wrap(fault.KindStorageFailure, err, "scan check row")
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindStorageFailure, err, "iterate check rows")
	}
	return out, nil
}

// SQLite LIKE treats % and _ as wildcards; escape them so keywords match
// literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListCategories returns every category with its record count, most populous
// first.
func (s *Store) ListCategories(ctx context.Context) ([]CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) AS n FROM checks
		GROUP BY category ORDER BY n DESC, category ASC`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageFailure, err, "list categories")
	}
	defer rows.Close()

	var out []CategoryCount
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, fault.Wrap(fault.KindStorageFailure, err, "scan category row")
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

// Stats summarizes the catalog: totals per kind and the checks executed most
// recently.
func (s *Store) Stats(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{PerKindCount: make(map[Kind]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM checks GROUP BY kind`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageFailure, err, "count checks")
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fault.Wrap(fault.KindStorageFailure, err, "scan kind count")
		}
		stats.PerKindCount[Kind(kind)] = n
		stats.TotalCount += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fault.Wrap(fault.KindStorageFailure, err, "iterate kind counts")
	}
	rows.Close()

	recent, err := s.db.QueryContext(ctx, `
		SELECT id, label, last_used_at FROM checks
		WHERE last_used_at IS NOT NULL
		ORDER BY last_used_at DESC LIMIT ?`, recentUseCount)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageFailure, err, "list recent use")
	}
	defer recent.Close()
	for recent.Next() {
		var ru RecentUse
		if err := recent.Scan(&ru.ID, &ru.Label, &ru.LastUsedAt); err != nil {
			return nil, fault.Wrap(fault.KindStorageFailure, err, "scan recent use")
		}
		stats.MostRecentlyUsed = append(stats.MostRecentlyUsed, ru)
	}
	return stats, recent.Err()
}

// Delete removes the content files and then the catalog row. A missing
// content file does not block deletion; a file that exists but cannot be
// removed does, so the row keeps pointing at the stranded payload.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	if err := os.Remove(rec.ContentPath); err != nil && !os.IsNotExist(err) {
		return false, fault.Wrap(fault.KindStorageFailure, err, "remove content %s", rec.ContentPath)
	}
	if rec.Kind != KindManual {
		sidecar := sidecarPath(s.baseDir, rec.ContentPath)
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("sidecar not removed", "check_id", id, "path", sidecar, "error", err)
		}
	}

	err = retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM checks WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return false, fault.Wrap(fault.KindStorageFailure, err, "delete check %d", id)
	}

	s.logger.Info("check deleted", "check_id", id, "category", rec.Category)
	return true, nil
}

func sidecarPath(baseDir, contentPath string) string {
	base := strings.TrimSuffix(filepath.Base(contentPath), filepath.Ext(contentPath))
	return filepath.Join(baseDir, "metadata", base+".json")
}

// Touch advances last_used_at to now. Recorded on every execution attempt,
// whatever the outcome.
func (s *Store) Touch(ctx context.Context, id int64) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE checks SET last_used_at = ? WHERE id = ?`,
			time.Now().UTC(), id)
		return err
	})
	if err != nil {
		return fault.Wrap(fault.KindStorageFailure, err, "touch check %d", id)
	}
	return nil
}

// ContentPaths returns every cataloged content path keyed by check id.
// The integrity sweep cross-checks this against the files on disk.
func (s *Store) ContentPaths(ctx context.Context) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content_path FROM checks`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageFailure, err, "list content paths")
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fault.Wrap(fault.KindStorageFailure, err, "scan content path")
		}
		out[id] = path
	}
	return out, rows.Err()
}

// Content returns the stored payload bytes for a check.
func (s *Store) Content(ctx context.Context, id int64) ([]byte, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fault.New(fault.KindNotFound, "check %d not found", id)
	}
	data, err := os.ReadFile(rec.ContentPath)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageFailure, err, "read content for check %d", id)
	}
	return data, nil
}

// Package journal persists committed protocol events in an append-only,
// hash-chained SQL table.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"usvprotocol/core/events"
	"usvprotocol/observability/metrics"
)

// ErrChainBroken is returned by Verify when an entry does not link to its
// predecessor or its digest does not match its contents.
var ErrChainBroken = errors.New("journal: hash chain broken")

// Entry is one journaled event. Hash covers the sequence number, the event
// and PrevHash.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq        uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	PrevHash   string    `gorm:"size:64"`
	Hash       string    `gorm:"size:64;uniqueIndex"`
	CreatedAt  time.Time
}

// TableName pins the table name across drivers.
func (Entry) TableName() string { return "journal_entries" }

// Record decodes the entry back into its event record.
func (e Entry) Record() (events.Record, error) {
	rec := events.Record{Type: e.Type, Attributes: map[string]string{}}
	if e.Attributes == "" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &rec.Attributes); err != nil {
		return rec, fmt.Errorf("journal: decode entry %d: %w", e.Seq, err)
	}
	return rec, nil
}

// Journal appends events to the database. It implements events.Emitter.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSeq  uint64
	lastHash string
}

// Dialector picks the gorm driver for dsn: postgres URLs use the postgres
// driver, everything else is treated as a SQLite DSN.
func Dialector(dsn string) gorm.Dialector {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return postgres.Open(trimmed)
	}
	return sqlite.Open(trimmed)
}

// Open connects to dsn, migrates the schema and loads the chain tip.
func Open(dsn string, log *slog.Logger) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	j := &Journal{db: db, logger: log, now: time.Now}
	var tip Entry
	err = db.Order("seq desc").Limit(1).Take(&tip).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, fmt.Errorf("journal: load tip: %w", err)
	default:
		j.lastSeq, j.lastHash = tip.Seq, tip.Hash
	}
	return j, nil
}

// Close releases the connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit appends evt. Failures are logged and counted; the engine has already
// committed by the time events are emitted.
func (j *Journal) Emit(evt events.Event) {
	if _, err := j.Append(context.Background(), events.Flatten(evt)); err != nil {
		j.logger.Error("journal append failed", "type", evt.EventType(), "error", err)
		metrics.Events().RecordDropped("journal")
	}
}

// Append writes rec as the next entry of the chain.
func (j *Journal) Append(ctx context.Context, rec events.Record) (Entry, error) {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: encode attributes: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		ID:         uuid.New(),
		Seq:        j.lastSeq + 1,
		Type:       rec.Type,
		Attributes: string(attrs),
		PrevHash:   j.lastHash,
		CreatedAt:  j.now().UTC(),
	}
	entry.Hash = digest(entry)
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return Entry{}, fmt.Errorf("journal: insert: %w", err)
	}
	j.lastSeq, j.lastHash = entry.Seq, entry.Hash
	metrics.Events().RecordJournaled()
	return entry, nil
}

// List returns up to limit entries with Seq greater than after, oldest first.
func (j *Journal) List(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var out []Entry
	err := j.db.WithContext(ctx).Where("seq > ?", after).Order("seq asc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return out, nil
}

// Tip returns the last sequence number and hash.
func (j *Journal) Tip() (uint64, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq, j.lastHash
}

// Verify walks the whole chain and checks every link and digest.
func (j *Journal) Verify(ctx context.Context) error {
	var (
		after uint64
		prev  string
	)
	for {
		batch, err := j.List(ctx, after, 500)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, entry := range batch {
			if entry.Seq != after+1 || entry.PrevHash != prev {
				return fmt.Errorf("%w: entry %d does not link to %d", ErrChainBroken, entry.Seq, after)
			}
			if digest(entry) != entry.Hash {
				return fmt.Errorf("%w: entry %d digest mismatch", ErrChainBroken, entry.Seq)
			}
			after, prev = entry.Seq, entry.Hash
		}
	}
}

func digest(e Entry) string {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], e.Seq)
	buf := make([]byte, 0, len(e.PrevHash)+len(seq)+len(e.Type)+len(e.Attributes)+2)
	buf = append(buf, e.PrevHash...)
	buf = append(buf, seq[:]...)
	buf = append(buf, e.Type...)
	buf = append(buf, 0)
	buf = append(buf, e.Attributes...)
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

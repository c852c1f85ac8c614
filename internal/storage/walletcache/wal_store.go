package walletcache

import (
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

const (
	defaultJournalDir   = "./wal/wallet"
	journalSegmentLimit = 1000
	journalMaxSegments  = 100
	journalKey          = "wallet_snapshot"
)

// WALStore journals every snapshot. The newest entry is the current wallet;
// older entries let views replay recent changes.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
	now func() time.Time
}

type journalEntry struct {
	Timestamp time.Time                `json:"ts"`
	Wallet    map[string]storedBalance `json:"wallet"`
}

// NewWALStore opens or creates the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "wallet_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init wallet journal")
	}

	return &WALStore{wal: wal, now: time.Now}, nil
}

// Save appends the snapshot to the journal.
func (s *WALStore) Save(wallet domain.WalletSnapshot) error {
	if s == nil || s.wal == nil {
		return errors.New("wallet journal is not initialized")
	}

	payload, err := json.Marshal(journalEntry{Timestamp: s.now(), Wallet: toStored(wallet)})
	if err != nil {
		return errors.Wrap(err, "marshal wallet snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, journalKey, payload)
}

// Load returns the newest journaled snapshot, or an empty wallet.
func (s *WALStore) Load() (domain.WalletSnapshot, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("wallet journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for idx := s.wal.CurrentIndex(); idx > 0; idx-- {
		rec, ok, err := s.record(idx)
		if err != nil {
			return nil, err
		}
		if ok {
			return rec.Wallet, nil
		}
	}

	return domain.WalletSnapshot{}, nil
}

// SnapshotsAfter returns every snapshot journaled after index.
func (s *WALStore) SnapshotsAfter(index uint64) ([]domain.WalletRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("wallet journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.WalletRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		rec, ok, err := s.record(idx)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}

	return records, nil
}

func (s *WALStore) record(idx uint64) (domain.WalletRecord, bool, error) {
	key, payload, ok := s.wal.Get(idx)
	if !ok || !strings.HasPrefix(key, journalKey) {
		return domain.WalletRecord{}, false, nil
	}

	var entry journalEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return domain.WalletRecord{}, false, errors.Wrapf(err, "decode wallet snapshot %d", idx)
	}
	wallet, err := fromStored(entry.Wallet)
	if err != nil {
		return domain.WalletRecord{}, false, errors.Wrapf(err, "decode wallet snapshot %d", idx)
	}

	return domain.WalletRecord{Index: idx, Timestamp: entry.Timestamp, Wallet: wallet}, true, nil
}

// CurrentIndex returns the latest journal index.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying journal.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

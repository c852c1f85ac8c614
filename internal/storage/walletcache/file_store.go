// Package walletcache persists the client side wallet snapshot between runs.
package walletcache

import (
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

const defaultFileName = "wallet.json"

// FileStore keeps the latest snapshot in a single JSON file.
type FileStore struct {
	path string
}

type storedBalance struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Total     string `json:"total"`
}

// NewFileStore creates the directory if needed. An empty dir uses the
// working directory.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create wallet cache dir")
	}

	return &FileStore{path: filepath.Join(dir, defaultFileName)}, nil
}

// Load returns the cached snapshot, or an empty one when nothing was saved.
func (s *FileStore) Load() (domain.WalletSnapshot, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.WalletSnapshot{}, nil
		}
		return nil, errors.Wrap(err, "read wallet cache")
	}
	if len(payload) == 0 {
		return domain.WalletSnapshot{}, nil
	}

	var stored map[string]storedBalance
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, errors.Wrap(err, "decode wallet cache")
	}

	return fromStored(stored)
}

// Save writes the snapshot atomically via a temp file.
func (s *FileStore) Save(wallet domain.WalletSnapshot) error {
	payload, err := json.MarshalIndent(toStored(wallet), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode wallet cache")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write wallet cache temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist wallet cache")
	}

	return nil
}

func toStored(wallet domain.WalletSnapshot) map[string]storedBalance {
	out := make(map[string]storedBalance, len(wallet))
	for asset, b := range wallet {
		out[asset] = storedBalance{
			Available: b.Available.String(),
			Locked:    b.Locked.String(),
			Total:     b.Total.String(),
		}
	}
	return out
}

func fromStored(stored map[string]storedBalance) (domain.WalletSnapshot, error) {
	wallet := make(domain.WalletSnapshot, len(stored))
	for asset, sb := range stored {
		available, err := parseAmount(sb.Available)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s available", asset)
		}
		locked, err := parseAmount(sb.Locked)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s locked", asset)
		}
		total, err := parseAmount(sb.Total)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s total", asset)
		}
		wallet[asset] = domain.AssetBalance{Available: available, Locked: locked, Total: total}
	}
	return wallet, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// #region config
// BadgerConfig configures the local artifact store.
type BadgerConfig struct {
	Path     string
	InMemory bool
	Logger   *slog.Logger
}
// #endregion config

// #region badger-logger
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
// #endregion badger-logger

// #region badger-store
// BadgerStore keeps artifacts in an embedded badger database, one key per
// bucket/key pair.
type BadgerStore struct {
	db *badger.DB
}

var (
	_ Store  = (*BadgerStore)(nil)
	_ Copier = (*BadgerStore)(nil)
)

// OpenBadger opens (or creates) the local artifact store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent artifact store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create artifact directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger artifact store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerInMemory opens a throwaway store.
func OpenBadgerInMemory() (*BadgerStore, error) {
	return OpenBadger(BadgerConfig{InMemory: true})
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func badgerKey(loc Location) []byte {
	return []byte(loc.Bucket + "/" + loc.Key)
}

// Put writes data at loc, replacing any previous object.
func (s *BadgerStore) Put(ctx context.Context, loc Location, data []byte) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(loc), data)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", loc, err)
	}
	return nil
}

// Get reads the object at loc.
func (s *BadgerStore) Get(ctx context.Context, loc Location) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(loc))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get %s: %w", loc, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", loc, err)
	}
	return out, nil
}

// Exists reports whether an object is stored at loc.
func (s *BadgerStore) Exists(ctx context.Context, loc Location) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(loc))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", loc, err)
	}
	return true, nil
}

// Delete removes the object at loc. Missing objects are not an error.
func (s *BadgerStore) Delete(ctx context.Context, loc Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(loc))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", loc, err)
	}
	return nil
}

// Copy duplicates src to dst inside a single transaction.
func (s *BadgerStore) Copy(ctx context.Context, src, dst Location) error {
	if err := dst.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(src))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.Set(badgerKey(dst), val)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("copy %s: %w", src, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return nil
}
// #endregion badger-store

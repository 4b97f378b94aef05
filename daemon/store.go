package daemon

import (
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/eshenhu/dlt"
	"go.uber.org/zap"
)

const (
	keyDefaultLevel = "cfg/default_level"
	keyDefaultTrace = "cfg/default_trace"
	keyFiltering    = "cfg/filtering"
	prefixContext   = "ctx/"
)

// ContextSetting is the persisted level and trace status of one context.
type ContextSetting struct {
	App   dlt.ID
	Ctx   dlt.ID
	Level int8
	Trace int8
}

// Snapshot is the configuration written by StoreConfiguration.
type Snapshot struct {
	DefaultLevel int8
	DefaultTrace int8
	Filtering    bool
	Contexts     []ContextSetting
}

// Store keeps the daemon configuration across restarts.
type Store struct {
	db  *badgerdb.DB
	log *zap.Logger
}

// OpenStore opens the store in dir. An empty dir keeps everything in memory.
func OpenStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("store")

	opts := badgerdb.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	opts.Logger = badgerLogger{log.Sugar()}
	opts.NumMemtables = 2
	opts.BlockCacheSize = 8 << 20
	opts.IndexCacheSize = 8 << 20

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	log.Info("opened configuration store", zap.String("dir", dir), zap.Bool("in_memory", dir == ""))
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// contextKey holds the raw ID bytes; IDs may contain any byte.
func contextKey(app, ctx dlt.ID) []byte {
	k := make([]byte, 0, len(prefixContext)+2*dlt.IDSize)
	k = append(k, prefixContext...)
	k = append(k, app[:]...)
	return append(k, ctx[:]...)
}

// Save replaces the stored configuration with snap.
func (s *Store) Save(snap Snapshot) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := deletePrefix(txn, []byte(prefixContext)); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyDefaultLevel), []byte{byte(snap.DefaultLevel)}); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyDefaultTrace), []byte{byte(snap.DefaultTrace)}); err != nil {
			return err
		}
		filtering := byte(0)
		if snap.Filtering {
			filtering = 1
		}
		if err := txn.Set([]byte(keyFiltering), []byte{filtering}); err != nil {
			return err
		}
		for _, c := range snap.Contexts {
			if err := txn.Set(contextKey(c.App, c.Ctx), []byte{byte(c.Level), byte(c.Trace)}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the stored configuration. ok is false when nothing was saved.
func (s *Store) Load() (snap Snapshot, ok bool, err error) {
	err = s.db.View(func(txn *badgerdb.Txn) error {
		get := func(key string) (byte, error) {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return 0, err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return 0, err
			}
			if len(v) != 1 {
				return 0, fmt.Errorf("store: %s: bad value length %d", key, len(v))
			}
			return v[0], nil
		}

		v, err := get(keyDefaultLevel)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		snap.DefaultLevel = int8(v)
		if v, err = get(keyDefaultTrace); err != nil {
			return err
		}
		snap.DefaultTrace = int8(v)
		if v, err = get(keyFiltering); err != nil {
			return err
		}
		snap.Filtering = v != 0

		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixContext)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()[len(prefix):]
			if len(key) != 2*dlt.IDSize {
				s.log.Warn("skipping malformed key", zap.Binary("key", item.Key()))
				continue
			}
			var app, ctx dlt.ID
			copy(app[:], key[:dlt.IDSize])
			copy(ctx[:], key[dlt.IDSize:])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(val) != 2 {
				s.log.Warn("skipping malformed value", zap.Binary("key", item.Key()))
				continue
			}
			snap.Contexts = append(snap.Contexts, ContextSetting{
				App:   app,
				Ctx:   ctx,
				Level: int8(val[0]),
				Trace: int8(val[1]),
			})
		}
		return nil
	})
	return snap, ok, err
}

// Clear removes every stored value.
func (s *Store) Clear() error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := deletePrefix(txn, []byte("cfg/")); err != nil {
			return err
		}
		return deletePrefix(txn, []byte(prefixContext))
	})
}

func deletePrefix(txn *badgerdb.Txn, prefix []byte) error {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes badger's own logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }

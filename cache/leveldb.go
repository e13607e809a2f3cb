package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStorage stores caches in a LevelDB directory.
// Cache names live under "n:<name>", entries under "e:<name>\x00<key>".
type LevelDBStorage struct {
	db *leveldb.DB
	// serialises name checks with the batch writes depending on them
	mu sync.Mutex
}

func NewLevelDBStorage(path string) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStorage{db: db}, nil
}

func nameKey(name string) []byte {
	return []byte("n:" + name)
}

func entryPrefix(name string) []byte {
	return []byte("e:" + name + "\x00")
}

func (l *LevelDBStorage) Open(_ context.Context, name string) (Handle, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Put(nameKey(name), []byte{1}, nil); err != nil {
		return nil, err
	}
	return levelHandle{l: l, name: name}, nil
}

func (l *LevelDBStorage) Names(_ context.Context) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	defer it.Release()
	names := make([]string, 0)
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte("n:"))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (l *LevelDBStorage) Delete(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	existed, err := l.db.Has(nameKey(name), nil)
	if err != nil {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Delete(nameKey(name))
	it := l.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		// iterator keys are only valid until the next call
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		batch.Delete(k)
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	if err := l.db.Write(batch, nil); err != nil {
		return false, err
	}
	return existed, nil
}

func (l *LevelDBStorage) Close() error {
	return l.db.Close()
}

type levelHandle struct {
	l    *LevelDBStorage
	name string
}

func (h levelHandle) Name() string {
	return h.name
}

func (h levelHandle) Put(_ context.Context, key string, res Response) error {
	b, err := encodeGob(res)
	if err != nil {
		return err
	}
	h.l.mu.Lock()
	defer h.l.mu.Unlock()
	if ok, err := h.l.db.Has(nameKey(h.name), nil); err != nil {
		return err
	} else if !ok {
		return ErrCacheDeleted
	}
	return h.l.db.Put(append(entryPrefix(h.name), key...), b, nil)
}

func (h levelHandle) Match(_ context.Context, key string) (Response, bool, error) {
	b, err := h.l.db.Get(append(entryPrefix(h.name), key...), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, err
	}
	var res Response
	if err := decodeGob(b, &res); err != nil {
		return Response{}, false, err
	}
	return res, true, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

func init() {
	// Ensure http.Header is registered for gob.
	gob.Register(http.Header{})
}

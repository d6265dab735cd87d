/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

// Package rocksdb keeps broadcast blobs on local disk so a coordinator can serve
// side inputs larger than it wants to hold on the heap.
package rocksdb

import (
	"fmt"
	"path/filepath"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/backend"
	"github.com/tecbot/gorocksdb"
)

func init() {
	backend.Register(`rocksdb`, func(dir string, logger log.Logger) backend.Builder {
		return Builder(&Config{Dir: dir, Logger: logger})
	})
}

type Config struct {
	Dir    string
	Logger log.Logger
}

type rocksDB struct {
	name   string
	path   string
	db     *gorocksdb.DB
	ro     *gorocksdb.ReadOptions
	wo     *gorocksdb.WriteOptions
	logger log.Logger
}

func Builder(config *Config) backend.Builder {
	return func(name string) (backend.Backend, error) {
		return NewRocksDb(name, config)
	}
}

func NewRocksDb(name string, config *Config) (backend.Backend, error) {
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)

	path := filepath.Join(config.Dir, name)
	db, err := gorocksdb.OpenDb(opts, path)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot open rocksdb at [%s]`, path))
	}

	r := &rocksDB{
		name:   name,
		path:   path,
		db:     db,
		ro:     gorocksdb.NewDefaultReadOptions(),
		wo:     gorocksdb.NewDefaultWriteOptions(),
		logger: config.Logger.NewLog(log.Prefixed(fmt.Sprintf(`rocksdb-backend.%s`, name))),
	}

	r.logger.Info(fmt.Sprintf(`backend opened on %s`, path))

	return r, nil
}

func (r *rocksDB) Name() string {
	return r.name
}

func (r *rocksDB) String() string {
	return fmt.Sprintf(`rocksdb backend [%s] on %s`, r.name, r.path)
}

func (r *rocksDB) Persistent() bool {
	return true
}

func (r *rocksDB) Set(key []byte, value []byte) error {
	if err := r.db.Put(r.wo, key, value); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`rocksdb [%s] put failed`, r.name))
	}

	return nil
}

func (r *rocksDB) Get(key []byte) ([]byte, error) {
	slice, err := r.db.Get(r.ro, key)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`rocksdb [%s] get failed`, r.name))
	}
	defer slice.Free()

	if !slice.Exists() {
		return nil, nil
	}

	out := make([]byte, slice.Size())
	copy(out, slice.Data())
	return out, nil
}

func (r *rocksDB) Delete(key []byte) error {
	if err := r.db.Delete(r.wo, key); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`rocksdb [%s] delete failed`, r.name))
	}

	return nil
}

func (r *rocksDB) Iterator() backend.Iterator {
	return &iterator{it: r.db.NewIterator(r.ro)}
}

func (r *rocksDB) Close() error {
	r.db.Close()
	r.ro.Destroy()
	r.wo.Destroy()
	r.logger.Info(`backend closed`)
	return nil
}

type iterator struct {
	it *gorocksdb.Iterator
}

func (i *iterator) SeekToFirst() {
	i.it.SeekToFirst()
}

func (i *iterator) Valid() bool {
	return i.it.Valid()
}

func (i *iterator) Next() {
	i.it.Next()
}

func (i *iterator) Key() []byte {
	k := i.it.Key()
	defer k.Free()
	out := make([]byte, k.Size())
	copy(out, k.Data())
	return out
}

func (i *iterator) Value() []byte {
	v := i.it.Value()
	defer v.Free()
	out := make([]byte, v.Size())
	copy(out, v.Data())
	return out
}

func (i *iterator) Close() {
	i.it.Close()
}

// Copyright 2018 Mark Wardle / Eldrix Ltd
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
//

package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelStore is a concrete file-based document store using goleveldb
type levelStore struct {
	db *leveldb.DB
}

type levelBatch struct {
	batch  leveldb.Batch
	store  *levelStore
	errors []error
}

func (ls *levelStore) Update(f func(Batch) error) error {
	batch := &levelBatch{
		store: ls,
	}
	err := f(batch)
	if err != nil {
		return err
	}
	if len(batch.errors) > 0 {
		return fmt.Errorf("errors on update: %v", batch.errors)
	}
	return ls.db.Write(&batch.batch, nil)
}

func (ls *levelStore) View(f func(Batch) error) error {
	batch := &levelBatch{
		store: ls,
	}
	return f(batch)
}

func (lb *levelBatch) Get(b bucket, key []byte, value interface{}) error {
	d, err := lb.store.db.Get(bytes.Join([][]byte{b.name(), key}, nil), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(d, value)
}

func (lb *levelBatch) GetIndexEntries(b bucket, key []byte) ([][]byte, error) {
	prefix := bytes.Join([][]byte{b.name(), key}, nil)
	lp := len(prefix)
	iter := lb.store.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	result := make([][]byte, 0)
	for iter.Next() {
		k := iter.Key()
		entry := k[lp:]
		entry2 := make([]byte, len(entry))
		copy(entry2, entry)
		result = append(result, entry2) // we have to store a copy
	}
	return result, iter.Error()
}

func (lb *levelBatch) Put(b bucket, key []byte, value interface{}) {
	d, err := json.Marshal(value)
	if err != nil {
		lb.errors = append(lb.errors, err)
	}
	k := bytes.Join([][]byte{b.name(), key}, nil)
	lb.batch.Put(k, d)
}

func (lb *levelBatch) AddIndexEntry(b bucket, key []byte, value []byte) {
	k := bytes.Join([][]byte{b.name(), key, value}, nil)
	lb.batch.Put(k, []byte{'.'})
}

func (lb *levelBatch) Iterate(b bucket, keyPrefix []byte, f func(key, value []byte) error) error {
	k := bytes.Join([][]byte{b.name(), keyPrefix}, nil)
	lp := len(b.name())
	iter := lb.store.db.NewIterator(util.BytesPrefix(k), nil)
	defer iter.Release()

	for iter.Next() {
		if err := f(iter.Key()[lp:], iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (ls *levelStore) Close() error {
	return ls.db.Close()
}

func newLevelStore(filename string, readOnly bool) (*levelStore, error) {
	opts := opt.Options{ReadOnly: readOnly}
	db, err := leveldb.OpenFile(filename, &opts)
	if err != nil {
		return nil, err
	}
	return &levelStore{
		db: db,
	}, nil
}

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
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// branchStore persists branch documents and commit records in a bolt
// database, transactionally and separately from the component documents.
type branchStore struct {
	db *bolt.DB
}

var (
	bktBranches = []byte("branches") // key: branch path, value: Branch
	bktCommits  = []byte("commits")  // key: path|timepoint, value: commitRecord
)

// commitRecord is the durable trace of a successful commit.
type commitRecord struct {
	Path         string `json:"path"`
	Timepoint    int64  `json:"timepoint"`
	Rebase       bool   `json:"rebase,omitempty"`
	LockMetadata string `json:"lockMetadata,omitempty"`
}

func newBranchStore(filename string, readOnly bool) (*branchStore, error) {
	options := bolt.Options{
		Timeout:  2 * time.Second,
		ReadOnly: readOnly,
	}
	db, err := bolt.Open(filename, 0644, &options)
	if err != nil {
		return nil, err
	}
	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(bktBranches); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(bktCommits)
			return err
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return &branchStore{db: db}, nil
}

func (bs *branchStore) close() error {
	return bs.db.Close()
}

// branch loads the branch document for the given path.
func (bs *branchStore) branch(path string) (*Branch, error) {
	var branch Branch
	err := bs.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bktBranches).Get([]byte(path))
		if data == nil {
			return ErrBranchNotFound
		}
		return json.Unmarshal(data, &branch)
	})
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

func (bs *branchStore) exists(path string) (bool, error) {
	var found bool
	err := bs.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bktBranches).Get([]byte(path)) != nil
		return nil
	})
	return found, err
}

func (bs *branchStore) saveBranch(branch *Branch) error {
	data, err := json.Marshal(branch)
	if err != nil {
		return err
	}
	return bs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bktBranches).Put([]byte(branch.Path), data)
	})
}

// completeCommit persists the updated branch document and the commit record
// in a single transaction, making the commit durable.
func (bs *branchStore) completeCommit(branch *Branch, record *commitRecord) error {
	branchData, err := json.Marshal(branch)
	if err != nil {
		return err
	}
	recordData, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s|%019d", record.Path, record.Timepoint)
	return bs.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bktBranches).Put([]byte(branch.Path), branchData); err != nil {
			return err
		}
		return tx.Bucket(bktCommits).Put([]byte(key), recordData)
	})
}

// branches lists all branch documents.
func (bs *branchStore) branches() ([]*Branch, error) {
	result := make([]*Branch, 0)
	err := bs.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bktBranches).ForEach(func(k, v []byte) error {
			var branch Branch
			if err := json.Unmarshal(v, &branch); err != nil {
				return err
			}
			result = append(result, &branch)
			return nil
		})
	})
	return result, err
}

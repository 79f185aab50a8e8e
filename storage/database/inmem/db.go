// Package inmemdb provides map-backed repositories guarded by a single lock.
// Meant for tests and local hacking; the lock also serializes the ledger
// check-and-insert the way the SQL unique constraint does.
package inmemdb

import (
	"sync"

	"github.com/trezcool/tathmini/core/evaluation"
	"github.com/trezcool/tathmini/core/room"
	"github.com/trezcool/tathmini/core/user"
)

type DB struct {
	mutex   sync.RWMutex
	users   map[string]*user.User
	rooms   map[string]*room.Room
	groups  []*room.Group // creation order
	entries []evaluation.LedgerEntry
	results []evaluation.Result
}

func NewDB() *DB {
	return &DB{
		users: make(map[string]*user.User),
		rooms: make(map[string]*room.Room),
	}
}

// Reset drops all data. Handy between test cases sharing one DB.
func (db *DB) Reset() {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.users = make(map[string]*user.User)
	db.rooms = make(map[string]*room.Room)
	db.groups = nil
	db.entries = nil
	db.results = nil
}

func cloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

package app

import (
	"github.com/dokzlo13/greenhoused/internal/daynight"
	"github.com/dokzlo13/greenhoused/internal/state"
)

const (
	recordKind = "daynight"
	recordID   = "transitions"
)

// recordStore keeps the day/night transition record across restarts.
type recordStore struct {
	store *state.TypedStore[daynight.Record]
}

func newRecordStore(s *state.Store) *recordStore {
	return &recordStore{store: state.NewTypedStore[daynight.Record](s, recordKind)}
}

func (r *recordStore) SaveRecord(rec daynight.Record) error {
	return r.store.Set(recordID, rec)
}

// Load returns the saved record, false when none was saved yet.
func (r *recordStore) Load() (daynight.Record, bool, error) {
	rec, version, err := r.store.Get(recordID)
	if err != nil {
		return daynight.Record{}, false, err
	}
	return rec, version > 0, nil
}

func (r *recordStore) Clear() error {
	return r.store.Delete(recordID)
}

package watchlist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

// detectionTTL bounds the growth of the detection log.
const detectionTTL = 7 * 24 * time.Hour

// BuntStore is a Store backed by a buntdb file, or by memory when opened
// with ":memory:". Lists are stored under "list:<id>", vessels under
// "vessel:mmsi:<mmsi>" or "vessel:imo:<imo>", detections under a timestamped
// key with a TTL.
type BuntStore struct {
	db *buntdb.DB
}

// OpenBuntStore opens or creates the database at path.
func OpenBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("watchlist: open store: %w", err)
	}
	return &BuntStore{db: db}, nil
}

func (s *BuntStore) UpsertLists(lists []ListInfo) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, l := range lists {
			if l.ListID == "" {
				continue
			}
			raw, err := json.Marshal(l)
			if err != nil {
				return err
			}
			if _, _, err := tx.Set("list:"+l.ListID, string(raw), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BuntStore) UpsertVessels(vessels []Entry) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, v := range vessels {
			key := vesselKey(v)
			if key == "" {
				continue
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if _, _, err := tx.Set("vessel:"+key, string(raw), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BuntStore) LoadLists() ([]ListInfo, error) {
	var out []ListInfo
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("list:*", func(key, value string) bool {
			var l ListInfo
			if json.Unmarshal([]byte(value), &l) == nil {
				out = append(out, l)
			}
			return true
		})
	})
	return out, err
}

func (s *BuntStore) LoadVessels() ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("vessel:*", func(key, value string) bool {
			var v Entry
			if json.Unmarshal([]byte(value), &v) == nil {
				out = append(out, v)
			}
			return true
		})
	})
	return out, err
}

func (s *BuntStore) UpsertDetection(d Detection) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("detection:%s:%s:%d", d.ListID, d.MMSI, time.Now().UnixNano())
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(raw), &buntdb.SetOptions{Expires: true, TTL: detectionTTL})
		return err
	})
}

func (s *BuntStore) Close() error { return s.db.Close() }

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/MegaGrindStone/roundtable/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the Store interface using a BoltDB backend. It only remembers which rooms this
// client joined and whether they finished; messages are never persisted, the service owns them.
type BoltDB struct {
	db *bolt.DB
}

var roomsBucket = []byte("rooms")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roomsBucket)
		return err
	})

	return BoltDB{db: db}, err
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// Rooms retrieves all remembered rooms, most recently joined first.
func (b BoltDB) Rooms(context.Context) ([]models.RoomEntry, error) {
	var rooms []models.RoomEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(roomsBucket)
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var room models.RoomEntry
			if err := json.Unmarshal(v, &room); err != nil {
				return fmt.Errorf("failed to unmarshal room: %w", err)
			}
			rooms = append(rooms, room)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(rooms)
	return rooms, nil
}

// AddRoom stores a new room entry. It prefixes the entry's ID with a sequence number so that the
// bucket keeps joining order, and returns the new ID.
func (b BoltDB) AddRoom(_ context.Context, room models.RoomEntry) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(roomsBucket)
		if b == nil {
			return nil
		}

		idPrefix, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%020d-%s", idPrefix, room.ID)
		room.ID = newID

		v, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("failed to marshal room: %w", err)
		}

		return b.Put([]byte(newID), v)
	})

	return newID, err
}

// MarkFinished flags a remembered room as finished. Unknown IDs are silently ignored.
func (b BoltDB) MarkFinished(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(roomsBucket)
		if b == nil {
			return nil
		}

		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}

		var room models.RoomEntry
		if err := json.Unmarshal(v, &room); err != nil {
			return fmt.Errorf("failed to unmarshal room: %w", err)
		}
		room.Finished = true

		v, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("failed to marshal room: %w", err)
		}

		return b.Put([]byte(id), v)
	})
}

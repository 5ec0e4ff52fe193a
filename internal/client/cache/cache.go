// Package cache persists the device identity record. Balance and history are never
// written here.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DevicePrefix marks identifiers generated locally.
const DevicePrefix = "device_"

// Record is the single persisted record.
type Record struct {
	DeviceID          string    `json:"deviceId"`
	UserID            string    `json:"userId"`
	LastSyncTimestamp time.Time `json:"lastSyncTimestamp"`
}

// LocalCache stores a Record as a JSON file.
type LocalCache struct {
	path string
	mu   sync.Mutex
	rec  Record
	// newID is replaced in tests.
	newID func() string
}

// New returns a cache backed by path. Nothing is read until Load.
func New(path string) *LocalCache {
	return &LocalCache{
		path:  path,
		newID: func() string { return DevicePrefix + uuid.NewString() },
	}
}

// Load reads the record. A missing file is an empty record.
func (c *LocalCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *LocalCache) loadLocked() error {
	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.rec = Record{}
			return nil
		}
		return err
	}
	defer f.Close()

	var rec Record
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return fmt.Errorf("decode %s: %w", c.path, err)
	}
	c.rec = rec
	return nil
}

// saveLocked writes through a temporary file so a crash never leaves a torn record.
func (c *LocalCache) saveLocked() error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".mishura-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(c.rec); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

// ResolveIdentity returns the user id to act as. A non-empty platformID wins and is
// remembered. Otherwise the last stored user id is reused; a device id is generated and
// persisted only when the record has none.
func (c *LocalCache) ResolveIdentity(platformID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(); err != nil {
		return "", err
	}

	if platformID != "" {
		if c.rec.UserID != platformID {
			c.rec.UserID = platformID
			if err := c.saveLocked(); err != nil {
				return "", err
			}
		}
		return platformID, nil
	}

	if c.rec.UserID != "" {
		return c.rec.UserID, nil
	}

	prev := c.rec
	if c.rec.DeviceID == "" {
		c.rec.DeviceID = c.newID()
	}
	c.rec.UserID = c.rec.DeviceID
	if err := c.saveLocked(); err != nil {
		c.rec = prev
		return "", err
	}
	return c.rec.UserID, nil
}

// MarkSynced records the time of the last successful server sync.
func (c *LocalCache) MarkSynced(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.LastSyncTimestamp = t.UTC()
	return c.saveLocked()
}

// Record returns a copy of the current record.
func (c *LocalCache) Record() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

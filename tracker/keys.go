// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package tracker

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/majestrate/shoal/backend"
	"github.com/majestrate/shoal/clock"
	"github.com/majestrate/shoal/tracker/models"
)

// KeyLength is the length of the text form of an auth key.
const KeyLength = 32

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generateKey produces a random alphanumeric key.
func generateKey() (string, error) {
	raw := make([]byte, KeyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	for i, b := range raw {
		raw[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(raw), nil
}

// KeyCache mirrors the persisted auth keys in memory. After LoadAll the
// cache is the source of truth: a key missing here is unknown even if a
// row for it still exists in the store.
type KeyCache struct {
	mu   sync.RWMutex
	keys map[string]models.AuthKey
	conn backend.Conn
}

// NewKeyCache creates an empty cache writing through to conn.
func NewKeyCache(conn backend.Conn) *KeyCache {
	return &KeyCache{
		keys: make(map[string]models.AuthKey),
		conn: conn,
	}
}

// Issue generates a fresh key valid for ttl, persists it, and caches it.
func (c *KeyCache) Issue(ttl time.Duration) (models.AuthKey, error) {
	text, err := generateKey()
	if err != nil {
		return models.AuthKey{}, err
	}

	key := models.AuthKey{
		Key:        text,
		ValidUntil: clock.Now().Add(ttl).Unix(),
	}
	if err := c.conn.AddKey(key); err != nil {
		return models.AuthKey{}, err
	}

	c.mu.Lock()
	c.keys[key.Key] = key
	c.mu.Unlock()
	return key, nil
}

// Revoke removes a key from the store and the cache.
func (c *KeyCache) Revoke(key string) error {
	if err := c.conn.DeleteKey(key); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
	return nil
}

// Verify checks a key against the cache only.
func (c *KeyCache) Verify(key string, now time.Time) error {
	c.mu.RLock()
	k, ok := c.keys[key]
	c.mu.RUnlock()

	if !ok {
		return models.ErrKeyDNE
	}
	if !k.Valid(now) {
		return models.ErrKeyExpired
	}
	return nil
}

// LoadAll replaces the cache with the persisted keys.
func (c *KeyCache) LoadAll() error {
	keys, err := c.conn.LoadKeys()
	if err != nil {
		return err
	}

	fresh := make(map[string]models.AuthKey, len(keys))
	for _, k := range keys {
		fresh[k.Key] = k
	}

	c.mu.Lock()
	c.keys = fresh
	c.mu.Unlock()
	return nil
}

// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/storage"
)

// Key prefixes for cache entries and the locator index.
const (
	contentPrefix = "content"
	locatorPrefix = "locator"
)

func makeContentKey(digest string) []byte {
	return []byte(fmt.Sprintf("%s:%s", contentPrefix, digest))
}

func makeLocatorKey(locator string) []byte {
	return []byte(fmt.Sprintf("%s:%s", locatorPrefix, locator))
}

// Cache stores normalized source content keyed by digest, with a
// locator index pointing at the most recent digest per source.
type Cache struct {
	backend *Backend
}

var _ storage.ContentCache = (*Cache)(nil)

// NewCache creates a content cache on the given backend.
func NewCache(backend *Backend) *Cache {
	return &Cache{backend: backend}
}

// Put stores the content and returns its digest. Storing the same
// content twice is a cheap overwrite of identical bytes.
func (c *Cache) Put(ctx context.Context, locator, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("cache content: %w", core.ErrEmptyContent)
	}
	if locator == "" {
		return "", fmt.Errorf("cache content: %w", core.ErrEmptyLocator)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	digest := core.ContentDigest(text)
	entry := storage.CacheEntry{
		Locator:  locator,
		Text:     text,
		Length:   len(text),
		StoredAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode cache entry: %w", err)
	}

	err = c.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeContentKey(digest), encoded); err != nil {
			return err
		}
		return tx.Set(makeLocatorKey(locator), []byte(digest))
	}, true)
	if err != nil {
		return "", fmt.Errorf("cache content for %s: %w", locator, err)
	}
	return digest, nil
}

// GetByDigest retrieves cached content by digest.
func (c *Cache) GetByDigest(ctx context.Context, digest string) (*storage.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry storage.CacheEntry
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeContentKey(digest))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	}, false)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("cached content %s: %w", digest, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("cached content %s: %w", digest, err)
	}
	return &entry, nil
}

// GetByLocator retrieves the most recent content cached for the locator.
func (c *Cache) GetByLocator(ctx context.Context, locator string) (*storage.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var digest string
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeLocatorKey(locator))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			digest = string(val)
			return nil
		})
	}, false)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("cached content for %s: %w", locator, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("cached content for %s: %w", locator, err)
	}
	return c.GetByDigest(ctx, digest)
}

package ota

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketImages = []byte("images")

// ImageCache stores downloaded upgrade images in a BoltDB file so block
// transfers survive restarts without refetching.
type ImageCache struct {
	db *bolt.DB
}

// OpenImageCache opens or creates the cache file.
func OpenImageCache(path string) (*ImageCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open image cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketImages)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create image bucket: %w", err)
	}
	return &ImageCache{db: db}, nil
}

func cacheKey(key Key) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint16(out[0:2], key.ManufacturerCode)
	binary.LittleEndian.PutUint16(out[2:4], key.ImageType)
	binary.LittleEndian.PutUint32(out[4:8], key.FileVersion)
	return out
}

// Put stores raw image bytes.
func (c *ImageCache) Put(key Key, data []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Put(cacheKey(key), data)
	})
}

// Get returns cached image bytes, or nil when absent.
func (c *ImageCache) Get(key Key) []byte {
	var out []byte
	c.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketImages).Get(cacheKey(key)); data != nil {
			out = append([]byte(nil), data...)
		}
		return nil
	})
	return out
}

// Close closes the cache file.
func (c *ImageCache) Close() error {
	return c.db.Close()
}

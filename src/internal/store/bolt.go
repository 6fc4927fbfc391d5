package store

import (
	"time"

	"github.com/boltdb/bolt"
)

var (
	defaultBucket = []byte("vpnbook")
	credentialKey = []byte("credential")
)

type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second * 1})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() (string, error) {
	credential := ""
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(defaultBucket).Get(credentialKey)
		if value == nil {
			return nil
		}
		c, err := decode(value)
		if err != nil {
			return err
		}
		credential = c
		return nil
	})
	return credential, err
}

func (s *BoltStore) Save(credential string) error {
	value, err := encode(credential)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(defaultBucket).Put(credentialKey, value)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

package store

import (
	"encoding/json"
	"fmt"
)

const (
	DriverBolt = "bolt"
	DriverFile = "file"
)

// Store keeps the last credential that opened a session. The record is
// read and written as a whole, the last write wins.
type Store interface {
	Load() (string, error)
	Save(credential string) error
	Close() error
}

type record struct {
	Credential string `json:"credential"`
}

func encode(credential string) ([]byte, error) {
	return json.Marshal(&record{Credential: credential})
}

func decode(content []byte) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	rec := record{}
	if err := json.Unmarshal(content, &rec); err != nil {
		return "", err
	}
	return rec.Credential, nil
}

// New opens the store for driver at path.
func New(driver, path string) (Store, error) {
	switch driver {
	case DriverBolt, "":
		return NewBoltStore(path)
	case DriverFile:
		return NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

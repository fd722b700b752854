package persistence

import (
	"time"

	"github.com/Comcast/nimbus/storage"

	"github.com/google/uuid"
)

// Keys in the meta bucket.
const (
	KeyDBVersion        = "db_version"
	KeyNimbusID         = "nimbus-id"
	KeyUserOptIn        = "user-opt-in"
	KeyInstallationDate = "installation-date"
	KeyUpdateDate       = "update-date"
	KeyAppVersion       = "app-version"
	KeyFetchEnabled     = "fetch-enabled"
)

// GetBool returns the flag at key, or def when it's not set.
func GetBool(r storage.Reader, key string, def bool) (bool, error) {
	b := def
	if _, err := storage.GetJSON(r, storage.Meta, key, &b); err != nil {
		return def, err
	}
	return b, nil
}

func PutBool(w storage.Writer, key string, b bool) error {
	return storage.PutJSON(w, storage.Meta, key, b)
}

// GetTime returns nil when nothing is stored.
func GetTime(r storage.Reader, key string) (*time.Time, error) {
	var t time.Time
	have, err := storage.GetJSON(r, storage.Meta, key, &t)
	if err != nil || !have {
		return nil, err
	}
	return &t, nil
}

func PutTime(w storage.Writer, key string, t time.Time) error {
	return storage.PutJSON(w, storage.Meta, key, t.UTC())
}

// GetString returns "" when nothing is stored.
func GetString(r storage.Reader, key string) (string, error) {
	var s string
	_, err := storage.GetJSON(r, storage.Meta, key, &s)
	return s, err
}

func PutString(w storage.Writer, key, s string) error {
	return storage.PutJSON(w, storage.Meta, key, s)
}

// NimbusID returns the stored client id, creating and storing one if
// there isn't one yet.
func NimbusID(w storage.Writer) (uuid.UUID, error) {
	var id uuid.UUID
	have, err := storage.GetJSON(w, storage.Meta, KeyNimbusID, &id)
	if err != nil {
		return uuid.Nil, err
	}
	if have && id != uuid.Nil {
		return id, nil
	}
	id = uuid.New()
	return id, storage.PutJSON(w, storage.Meta, KeyNimbusID, id)
}

// ResetNimbusID stores a fresh client id.
func ResetNimbusID(w storage.Writer) (uuid.UUID, error) {
	id := uuid.New()
	return id, storage.PutJSON(w, storage.Meta, KeyNimbusID, id)
}

package sandbox

import (
	"encoding/json"
	"errors"
	"time"

	bolt "github.com/boltdb/bolt"

	"payments-e2e/models"
)

var (
	transactionsBucket = []byte("transactions")
	referencesBucket   = []byte("references")
)

var (
	ErrNotFound  = errors.New("transaction not found")
	ErrDuplicate = errors.New("duplicate reference")
)

// Store persists sandbox transactions in BoltDB. Transactions are keyed by
// id; a second bucket maps each reference to its transaction id.
type Store struct {
	db *bolt.DB
}

// record is what the store keeps per transaction.
type record struct {
	Data    models.TransactionData `json:"data"`
	Created time.Time              `json:"created"`
}

// OpenStore opens (or creates) the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{transactionsBucket, referencesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a new transaction. References are unique: a second
// transaction with the same reference fails with ErrDuplicate.
func (s *Store) Create(data models.TransactionData, created time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		refs := tx.Bucket(referencesBucket)
		if refs.Get([]byte(data.Reference)) != nil {
			return ErrDuplicate
		}

		raw, err := json.Marshal(record{Data: data, Created: created.UTC()})
		if err != nil {
			return err
		}
		if err := tx.Bucket(transactionsBucket).Put([]byte(data.ID), raw); err != nil {
			return err
		}
		return refs.Put([]byte(data.Reference), []byte(data.ID))
	})
}

// Get returns the transaction with id and the time it was created.
func (s *Store) Get(id string) (*models.TransactionData, time.Time, error) {
	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(transactionsBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return &rec.Data, rec.Created, nil
}

// FindByReference returns the transactions carrying ref, or an empty slice.
func (s *Store) FindByReference(ref string) ([]models.TransactionData, error) {
	items := []models.TransactionData{}
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(referencesBucket).Get([]byte(ref))
		if id == nil {
			return nil
		}
		v := tx.Bucket(transactionsBucket).Get(id)
		if v == nil {
			return nil
		}
		var rec record
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		items = append(items, rec.Data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Update applies fn to the stored transaction. When fn reports no change
// nothing is written and the stored transaction is returned as it was.
func (s *Store) Update(id string, fn func(data *models.TransactionData, created time.Time) bool) (*models.TransactionData, error) {
	var rec record
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transactionsBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if !fn(&rec.Data, rec.Created) {
			rec = record{}
			return json.Unmarshal(v, &rec)
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), raw)
	})
	if err != nil {
		return nil, err
	}
	return &rec.Data, nil
}

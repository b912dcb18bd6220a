package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptsBucket    = "receipts"
	lineItemsBucket   = "line_items"
	peopleBucket      = "people"
	personItemsBucket = "person_items"
)

// ErrNotFound is returned when a receipt, line item or person does not exist
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt creates or updates a receipt
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts, newest first
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt and all of its line items
	DeleteReceipt(id string) error

	// CommitIngestion saves the receipt and appends items to it in one transaction
	CommitIngestion(receipt *Receipt, items []*LineItem) error

	// SaveLineItem creates or updates a line item. New items are placed last.
	SaveLineItem(item *LineItem) error

	// GetLineItem retrieves a line item of a receipt
	GetLineItem(receiptID, id string) (*LineItem, error)

	// ListLineItems returns a receipt's items in position order
	ListLineItems(receiptID string) ([]*LineItem, error)

	// DeleteLineItem removes a line item
	DeleteLineItem(receiptID, id string) error

	// CreatePerson saves a new person and assigns its color
	CreatePerson(person *Person) error

	// GetPerson retrieves a person by ID
	GetPerson(id string) (*Person, error)

	// ListPeople returns all people sorted by name
	ListPeople() ([]*Person, error)

	// DeletePerson removes a person and unassigns their line items
	DeletePerson(id string) error

	// ListLineItemsForPerson returns every item assigned to a person across receipts
	ListLineItemsForPerson(personID string) ([]*LineItem, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB.
//
// Line items live in a nested bucket per receipt under line_items so deleting a
// receipt drops its items with a single DeleteBucket. person_items is an index
// of "<receiptID>/<itemID>" keys per person, kept in step with assignments.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptsBucket, lineItemsBucket, peopleBucket, personItemsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReceipt creates or updates a receipt
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putReceipt(tx, receipt)
	})
}

func putReceipt(tx *bbolt.Tx, receipt *Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	if err := tx.Bucket([]byte(receiptsBucket)).Put([]byte(receipt.ID), data); err != nil {
		return err
	}
	_, err = tx.Bucket([]byte(lineItemsBucket)).CreateBucketIfNotExists([]byte(receipt.ID))
	return err
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(receiptsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptsBucket)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and all of its line items
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		receipts := tx.Bucket([]byte(receiptsBucket))
		if receipts.Get([]byte(id)) == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}

		items := tx.Bucket([]byte(lineItemsBucket))
		if bucket := items.Bucket([]byte(id)); bucket != nil {
			err := bucket.ForEach(func(k, v []byte) error {
				var item LineItem
				if err := json.Unmarshal(v, &item); err != nil {
					return fmt.Errorf("unmarshaling line item: %w", err)
				}
				return unindexItem(tx, &item)
			})
			if err != nil {
				return err
			}
			if err := items.DeleteBucket([]byte(id)); err != nil {
				return fmt.Errorf("deleting line items: %w", err)
			}
		}
		return receipts.Delete([]byte(id))
	})
}

// CommitIngestion saves the receipt and appends items to it in one transaction
func (b *BoltDB) CommitIngestion(receipt *Receipt, items []*LineItem) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(receiptsBucket)).Get([]byte(receipt.ID)) == nil {
			return fmt.Errorf("receipt %s: %w", receipt.ID, ErrNotFound)
		}
		if err := putReceipt(tx, receipt); err != nil {
			return err
		}
		for _, item := range items {
			item.ReceiptID = receipt.ID
			if err := putLineItem(tx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveLineItem creates or updates a line item. New items are placed last.
func (b *BoltDB) SaveLineItem(item *LineItem) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putLineItem(tx, item)
	})
}

func itemsBucket(tx *bbolt.Tx, receiptID string) (*bbolt.Bucket, error) {
	bucket := tx.Bucket([]byte(lineItemsBucket)).Bucket([]byte(receiptID))
	if bucket == nil {
		return nil, fmt.Errorf("receipt %s: %w", receiptID, ErrNotFound)
	}
	return bucket, nil
}

func putLineItem(tx *bbolt.Tx, item *LineItem) error {
	bucket, err := itemsBucket(tx, item.ReceiptID)
	if err != nil {
		return err
	}
	if item.PersonID != "" && tx.Bucket([]byte(peopleBucket)).Get([]byte(item.PersonID)) == nil {
		return fmt.Errorf("person %s: %w", item.PersonID, ErrNotFound)
	}

	if existing := bucket.Get([]byte(item.ID)); existing != nil {
		var old LineItem
		if err := json.Unmarshal(existing, &old); err != nil {
			return fmt.Errorf("unmarshaling line item: %w", err)
		}
		if err := unindexItem(tx, &old); err != nil {
			return err
		}
		item.Position = old.Position
	} else {
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating position: %w", err)
		}
		item.Position = seq
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling line item: %w", err)
	}
	if err := bucket.Put([]byte(item.ID), data); err != nil {
		return err
	}
	return indexItem(tx, item)
}

func personIndexKey(item *LineItem) []byte {
	return []byte(item.ReceiptID + "/" + item.ID)
}

func indexItem(tx *bbolt.Tx, item *LineItem) error {
	if item.PersonID == "" {
		return nil
	}
	index, err := tx.Bucket([]byte(personItemsBucket)).CreateBucketIfNotExists([]byte(item.PersonID))
	if err != nil {
		return fmt.Errorf("indexing line item: %w", err)
	}
	return index.Put(personIndexKey(item), []byte{})
}

func unindexItem(tx *bbolt.Tx, item *LineItem) error {
	if item.PersonID == "" {
		return nil
	}
	index := tx.Bucket([]byte(personItemsBucket)).Bucket([]byte(item.PersonID))
	if index == nil {
		return nil
	}
	return index.Delete(personIndexKey(item))
}

// GetLineItem retrieves a line item of a receipt
func (b *BoltDB) GetLineItem(receiptID, id string) (*LineItem, error) {
	var item *LineItem
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket, err := itemsBucket(tx, receiptID)
		if err != nil {
			return err
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("line item %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListLineItems returns a receipt's items in position order
func (b *BoltDB) ListLineItems(receiptID string) ([]*LineItem, error) {
	items := make([]*LineItem, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket, err := itemsBucket(tx, receiptID)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			var item LineItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling line item: %w", err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByPosition(items)
	return items, nil
}

func sortByPosition(items []*LineItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Position < items[j].Position
	})
}

// DeleteLineItem removes a line item
func (b *BoltDB) DeleteLineItem(receiptID, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := itemsBucket(tx, receiptID)
		if err != nil {
			return err
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("line item %s: %w", id, ErrNotFound)
		}
		var item LineItem
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("unmarshaling line item: %w", err)
		}
		if err := unindexItem(tx, &item); err != nil {
			return err
		}
		return bucket.Delete([]byte(id))
	})
}

// CreatePerson saves a new person with the next palette color
func (b *BoltDB) CreatePerson(person *Person) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(peopleBucket))
		count := 0
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		person.ColorHex = paletteColor(count)
		data, err := json.Marshal(person)
		if err != nil {
			return fmt.Errorf("marshaling person: %w", err)
		}
		return bucket.Put([]byte(person.ID), data)
	})
}

// GetPerson retrieves a person by ID
func (b *BoltDB) GetPerson(id string) (*Person, error) {
	var person *Person
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(peopleBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("person %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &person)
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

// ListPeople returns all people sorted by name
func (b *BoltDB) ListPeople() ([]*Person, error) {
	people := make([]*Person, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(peopleBucket)).ForEach(func(k, v []byte) error {
			var person Person
			if err := json.Unmarshal(v, &person); err != nil {
				return fmt.Errorf("unmarshaling person: %w", err)
			}
			people = append(people, &person)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(people, func(i, j int) bool {
		if people[i].Name != people[j].Name {
			return people[i].Name < people[j].Name
		}
		return people[i].ID < people[j].ID
	})
	return people, nil
}

// DeletePerson removes a person and unassigns their line items in the same transaction
func (b *BoltDB) DeletePerson(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		people := tx.Bucket([]byte(peopleBucket))
		if people.Get([]byte(id)) == nil {
			return fmt.Errorf("person %s: %w", id, ErrNotFound)
		}

		indexes := tx.Bucket([]byte(personItemsBucket))
		if index := indexes.Bucket([]byte(id)); index != nil {
			var items []*LineItem
			err := index.ForEach(func(k, v []byte) error {
				item, err := lookupIndexed(tx, k)
				if err != nil || item == nil {
					return err
				}
				items = append(items, item)
				return nil
			})
			if err != nil {
				return err
			}
			for _, item := range items {
				item.PersonID = ""
				data, err := json.Marshal(item)
				if err != nil {
					return fmt.Errorf("marshaling line item: %w", err)
				}
				bucket, err := itemsBucket(tx, item.ReceiptID)
				if err != nil {
					return err
				}
				if err := bucket.Put([]byte(item.ID), data); err != nil {
					return err
				}
			}
			if err := indexes.DeleteBucket([]byte(id)); err != nil {
				return fmt.Errorf("deleting person index: %w", err)
			}
		}
		return people.Delete([]byte(id))
	})
}

// lookupIndexed resolves a person index key to its line item. A dangling key
// yields nil.
func lookupIndexed(tx *bbolt.Tx, key []byte) (*LineItem, error) {
	receiptID, itemID, ok := splitIndexKey(string(key))
	if !ok {
		return nil, nil
	}
	bucket := tx.Bucket([]byte(lineItemsBucket)).Bucket([]byte(receiptID))
	if bucket == nil {
		return nil, nil
	}
	data := bucket.Get([]byte(itemID))
	if data == nil {
		return nil, nil
	}
	var item LineItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling line item: %w", err)
	}
	return &item, nil
}

func splitIndexKey(key string) (string, string, bool) {
	return strings.Cut(key, "/")
}

// ListLineItemsForPerson returns every item assigned to a person across receipts
func (b *BoltDB) ListLineItemsForPerson(personID string) ([]*LineItem, error) {
	items := make([]*LineItem, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(peopleBucket)).Get([]byte(personID)) == nil {
			return fmt.Errorf("person %s: %w", personID, ErrNotFound)
		}
		index := tx.Bucket([]byte(personItemsBucket)).Bucket([]byte(personID))
		if index == nil {
			return nil
		}
		return index.ForEach(func(k, v []byte) error {
			item, err := lookupIndexed(tx, k)
			if err != nil || item == nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/invoice-auditor/internal/audit"
	"go.etcd.io/bbolt"
)

const (
	invoiceBucketName    = "invoices"
	vendorBucketName     = "vendors"
	vendorNameBucketName = "vendor_names"
	pricingBucketName    = "pricing"
)

var pricingKey = []byte("table")

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// SaveInvoice saves an invoice to the database
	SaveInvoice(invoice *Invoice) error

	// GetInvoice retrieves an invoice by ID
	GetInvoice(id string) (*Invoice, error)

	// ListInvoices returns all invoices
	ListInvoices() ([]*Invoice, error)

	// DeleteInvoice removes an invoice from the database
	DeleteInvoice(id string) error

	// GetVendor retrieves a vendor by ID
	GetVendor(id string) (*Vendor, error)

	// FindOrCreateVendor looks the name up and saves newVendor() when it is
	// unknown, atomically. The bool reports whether a vendor was created.
	FindOrCreateVendor(name string, newVendor func() *Vendor) (*Vendor, bool, error)

	// ListVendors returns all vendors
	ListVendors() ([]*Vendor, error)

	// SavePricing replaces the market pricing table
	SavePricing(rows []audit.PricingRow) error

	// GetPricing returns the market pricing table
	GetPricing() ([]audit.PricingRow, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
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
		for _, name := range []string{invoiceBucketName, vendorBucketName, vendorNameBucketName, pricingBucketName} {
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

// vendorKey is the name index key: trimmed, lowercased, single-spaced
func vendorKey(name string) []byte {
	return []byte(strings.ToLower(strings.Join(strings.Fields(name), " ")))
}

// SaveInvoice saves an invoice to the database
func (b *BoltDB) SaveInvoice(invoice *Invoice) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(invoice)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		return tx.Bucket([]byte(invoiceBucketName)).Put([]byte(invoice.ID), data)
	})
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(id string) (*Invoice, error) {
	var invoice *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(invoiceBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &invoice)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// ListInvoices returns all invoices
func (b *BoltDB) ListInvoices() ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoiceBucketName)).ForEach(func(k, v []byte) error {
			var invoice Invoice
			if err := json.Unmarshal(v, &invoice); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			invoices = append(invoices, &invoice)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// DeleteInvoice removes an invoice from the database
func (b *BoltDB) DeleteInvoice(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoiceBucketName)).Delete([]byte(id))
	})
}

// GetVendor retrieves a vendor by ID
func (b *BoltDB) GetVendor(id string) (*Vendor, error) {
	var vendor *Vendor
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		vendor, err = getVendor(tx, []byte(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return vendor, nil
}

// FindOrCreateVendor looks the name up and saves newVendor() when it is
// unknown. Both happen in one write transaction so concurrent callers agree
// on a single vendor per name.
func (b *BoltDB) FindOrCreateVendor(name string, newVendor func() *Vendor) (*Vendor, bool, error) {
	var (
		vendor  *Vendor
		created bool
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket([]byte(vendorNameBucketName))
		if id := names.Get(vendorKey(name)); id != nil {
			var err error
			vendor, err = getVendor(tx, id)
			return err
		}

		vendor = newVendor()
		data, err := json.Marshal(vendor)
		if err != nil {
			return fmt.Errorf("marshaling vendor: %w", err)
		}
		if err := tx.Bucket([]byte(vendorBucketName)).Put([]byte(vendor.ID), data); err != nil {
			return err
		}
		created = true
		return names.Put(vendorKey(vendor.Name), []byte(vendor.ID))
	})
	if err != nil {
		return nil, false, err
	}
	return vendor, created, nil
}

func getVendor(tx *bbolt.Tx, id []byte) (*Vendor, error) {
	data := tx.Bucket([]byte(vendorBucketName)).Get(id)
	if data == nil {
		return nil, fmt.Errorf("vendor %s: %w", id, ErrNotFound)
	}
	var vendor Vendor
	if err := json.Unmarshal(data, &vendor); err != nil {
		return nil, fmt.Errorf("unmarshaling vendor: %w", err)
	}
	return &vendor, nil
}

// ListVendors returns all vendors
func (b *BoltDB) ListVendors() ([]*Vendor, error) {
	vendors := make([]*Vendor, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(vendorBucketName)).ForEach(func(k, v []byte) error {
			var vendor Vendor
			if err := json.Unmarshal(v, &vendor); err != nil {
				return fmt.Errorf("unmarshaling vendor: %w", err)
			}
			vendors = append(vendors, &vendor)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vendors, nil
}

// SavePricing replaces the market pricing table
func (b *BoltDB) SavePricing(rows []audit.PricingRow) error {
	if rows == nil {
		rows = []audit.PricingRow{}
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rows)
		if err != nil {
			return fmt.Errorf("marshaling pricing: %w", err)
		}
		return tx.Bucket([]byte(pricingBucketName)).Put(pricingKey, data)
	})
}

// GetPricing returns the market pricing table, empty when none was saved
func (b *BoltDB) GetPricing() ([]audit.PricingRow, error) {
	rows := make([]audit.PricingRow, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(pricingBucketName)).Get(pricingKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rows)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshaling pricing: %w", err)
	}
	return rows, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-gatekeeper/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the relational gatekeeper stores from a single
// bun handle, resolved from whatever persistence client the embedder has.
type RepositoryFactory struct {
	db *bun.DB

	snapshotStore   *SnapshotStore
	deliveryArchive *DeliveryArchive
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores resolves the bun handle from the given client and constructs
// the stores. Calling it again after a successful build is a no-op.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.snapshotStore != nil && f.deliveryArchive != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) SnapshotStore() core.SnapshotStore {
	if f == nil {
		return nil
	}
	return f.snapshotStore
}

func (f *RepositoryFactory) DeliveryArchive() core.DeliveryLogArchive {
	if f == nil {
		return nil
	}
	return f.deliveryArchive
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	snapshotStore, err := NewSnapshotStore(f.db)
	if err != nil {
		return err
	}
	f.snapshotStore = snapshotStore

	deliveryArchive, err := NewDeliveryArchive(f.db)
	if err != nil {
		return err
	}
	f.deliveryArchive = deliveryArchive
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

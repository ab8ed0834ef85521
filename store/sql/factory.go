package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/inletapp/go-inbox/core"
)

type RepositoryFactory struct {
	db *bun.DB

	connectionStore   *ConnectionStore
	credentialStore   *CredentialStore
	subscriptionStore *SubscriptionStore
	ingestionStore    *IngestionStore
	deadLetterStore   *DeadLetterStore
	quotaCounterStore *QuotaCounterStore
	lockLeaseStore    *LockLeaseStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.connectionStore != nil && f.credentialStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) SubscriptionStore() core.SubscriptionStore {
	if f == nil {
		return nil
	}
	return f.subscriptionStore
}

func (f *RepositoryFactory) IngestionStore() core.IngestionStore {
	if f == nil {
		return nil
	}
	return f.ingestionStore
}

func (f *RepositoryFactory) DeadLetterStore() core.DeadLetterStore {
	if f == nil {
		return nil
	}
	return f.deadLetterStore
}

func (f *RepositoryFactory) QuotaCounterStore() *QuotaCounterStore {
	if f == nil {
		return nil
	}
	return f.quotaCounterStore
}

func (f *RepositoryFactory) LockLeaseStore() *LockLeaseStore {
	if f == nil {
		return nil
	}
	return f.lockLeaseStore
}

func (f *RepositoryFactory) initStores() error {
	connectionStore, err := NewConnectionStore(f.db)
	if err != nil {
		return err
	}
	f.connectionStore = connectionStore
	credentialStore, err := NewCredentialStore(f.db)
	if err != nil {
		return err
	}
	f.credentialStore = credentialStore
	subscriptionStore, err := NewSubscriptionStore(f.db)
	if err != nil {
		return err
	}
	f.subscriptionStore = subscriptionStore
	ingestionStore, err := NewIngestionStore(f.db)
	if err != nil {
		return err
	}
	f.ingestionStore = ingestionStore
	deadLetterStore, err := NewDeadLetterStore(f.db)
	if err != nil {
		return err
	}
	f.deadLetterStore = deadLetterStore
	quotaCounterStore, err := NewQuotaCounterStore(f.db)
	if err != nil {
		return err
	}
	f.quotaCounterStore = quotaCounterStore
	lockLeaseStore, err := NewLockLeaseStore(f.db)
	if err != nil {
		return err
	}
	f.lockLeaseStore = lockLeaseStore

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

var (
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)

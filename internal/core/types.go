package core

import "whispers/pkg/domain"

// PersistentStore is the repository contract the service runs on.
type PersistentStore = domain.PersistentStore

package storage

import "relecloud/internal/ports"

// Provider is the object store contract shared by the API, the worker and
// the upload CLI.
type Provider = ports.ObjectStore

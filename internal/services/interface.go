package services

import "context"

// Publisher announces session changes to downstream consumers such as the
// summary export worker. The service works without one.
//
//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks -source=interface.go Publisher
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks chongmu/internal/store SessionStore
type Publisher interface {
	PublishSessionChanged(ctx context.Context, sessionID string, revision int64) error
	PublishSessionDeleted(ctx context.Context, sessionID string, revision int64) error
}

package service

import (
	"context"

	"github.com/monbeats/monbeats-sync/internal/model"
)

// EventPublisher 同步结果事件发布接口
//
// Kafka 不可用时注入 NoopPublisher
type EventPublisher interface {
	PublishSyncConfirmed(ctx context.Context, confirmation *model.SyncConfirmation) error
	PublishSyncFailed(ctx context.Context, confirmation *model.SyncConfirmation) error
}

// NoopPublisher 空实现
type NoopPublisher struct{}

func (NoopPublisher) PublishSyncConfirmed(ctx context.Context, confirmation *model.SyncConfirmation) error {
	return nil
}

func (NoopPublisher) PublishSyncFailed(ctx context.Context, confirmation *model.SyncConfirmation) error {
	return nil
}

package poolcmd

import "context"

// Service manages pool ledgers on behalf of the dispatcher.
type Service interface {
	Create(ctx context.Context, name string, config *PoolConfig) error
	Delete(ctx context.Context, name string) error
	// Open may block on network work until ctx is done.
	Open(ctx context.Context, name string, config *OpenConfig) (Handle, error)
	List(ctx context.Context) ([]PoolInfo, error)
	// Close begins teardown of handle and returns without waiting for it.
	// Completion is reported later as an acknowledgement carrying the
	// returned id, which may arrive before Close returns.
	Close(ctx context.Context, handle Handle) (CorrelationID, error)
	Refresh(ctx context.Context, handle Handle) error
}

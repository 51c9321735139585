package push

import (
	"context"
)

// AuthorizationCenter is the platform's notification permission prompt.
// The result is delivered asynchronously through done; implementations must
// call done exactly once.
type AuthorizationCenter interface {
	RequestAuthorization(ctx context.Context, opts AuthorizationOptions, done func(granted bool, err error))
}

// RemoteRegistrar asks the OS push service to register this installation.
// The outcome arrives later through the client's registration callbacks.
type RemoteRegistrar interface {
	RegisterForRemoteNotifications()
}

// MessagingBridge hands the raw OS device identifier to the messaging platform
// so it can map it to a messaging token.
type MessagingBridge interface {
	SetAPNSToken(deviceID []byte)
}

// TokenStore persists the messaging token for this installation.
type TokenStore interface {
	// Load returns ErrTokenNotFound when nothing has been saved yet.
	Load(ctx context.Context) (*TokenRecord, error)
	Save(ctx context.Context, record TokenRecord) error
}

// Handler receives routed notification events. Handlers run on the callback
// loop and must not block.
type Handler func(Event)

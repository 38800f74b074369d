// --- File: pkg/push/interfaces.go ---
package push

import "context"

// Unsubscribe releases one attached listener.
type Unsubscribe func()

// Device describes the hardware the session runs on.
type Device interface {
	// IsPhysical reports false on emulators and simulators.
	IsPhysical() bool
	Platform() Platform
}

// LocalNotifier is the platform-level notification facility.
type LocalNotifier interface {
	GetPermissions(ctx context.Context) (PermissionStatus, error)
	RequestPermissions(ctx context.Context) (PermissionStatus, error)

	// Present shows a notification immediately.
	Present(ctx context.Context, title, body string, data map[string]any) error

	SetNotificationChannel(ctx context.Context, channel ChannelConfig) error
	SetPresentationOptions(opts PresentationOptions) error

	AddReceivedListener(fn func(LocalNotification)) (Unsubscribe, error)
	AddResponseListener(fn func(LocalResponse)) (Unsubscribe, error)
}

// CloudMessaging is the network push infrastructure client.
type CloudMessaging interface {
	RequestPermission(ctx context.Context) (AuthorizationStatus, error)
	GetToken(ctx context.Context) (string, error)

	OnTokenRefresh(fn func(token string)) (Unsubscribe, error)
	// OnMessage fires for messages received while the app is foregrounded.
	OnMessage(fn func(RemoteMessage)) (Unsubscribe, error)
	// OnNotificationOpenedApp fires when a notification opens the app from
	// the background.
	OnNotificationOpenedApp(fn func(RemoteMessage)) (Unsubscribe, error)
	// GetInitialNotification returns the message that launched the app from
	// a terminated state, if any.
	GetInitialNotification(ctx context.Context) (*RemoteMessage, error)
}

// TokenRegistrar forwards a (re)acquired device token to a backend.
type TokenRegistrar interface {
	Register(ctx context.Context, token string) error
}

// OpenHandler receives messages that opened the application.
type OpenHandler interface {
	HandleOpened(ctx context.Context, msg RemoteMessage, coldStart bool)
}

// ResponseHandler receives user interactions with local notifications.
type ResponseHandler interface {
	HandleResponse(ctx context.Context, resp LocalResponse)
}

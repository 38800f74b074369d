// Package push contains the public domain model and the collaborator
// interfaces consumed by a push notification session.
package push

import (
	"maps"
	"time"
)

// Origin tags which subsystem a notification came from.
type Origin string

const (
	OriginLocal Origin = "local"
	OriginCloud Origin = "cloud"
)

// Platform identifies the host platform family.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// NormalizedNotification is the canonical, origin-tagged notification shape.
// It is immutable once constructed: the data map is copied on the way in and
// on the way out.
type NormalizedNotification struct {
	id         string
	title      string
	body       string
	data       map[string]any
	origin     Origin
	receivedAt time.Time
}

// NewNormalizedNotification builds a notification, copying data.
// A nil data map is stored as an empty map.
func NewNormalizedNotification(id, title, body string, data map[string]any, origin Origin, receivedAt time.Time) NormalizedNotification {
	return NormalizedNotification{
		id:         id,
		title:      title,
		body:       body,
		data:       CloneData(data),
		origin:     origin,
		receivedAt: receivedAt,
	}
}

func (n NormalizedNotification) ID() string            { return n.id }
func (n NormalizedNotification) Title() string         { return n.title }
func (n NormalizedNotification) Body() string          { return n.body }
func (n NormalizedNotification) Origin() Origin        { return n.origin }
func (n NormalizedNotification) ReceivedAt() time.Time { return n.receivedAt }

// Data returns a copy of the free-form payload.
func (n NormalizedNotification) Data() map[string]any { return CloneData(n.data) }

// NotificationView is the JSON rendering of a NormalizedNotification.
type NotificationView struct {
	ID         string         `json:"id,omitempty"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data"`
	Origin     Origin         `json:"origin"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// View renders the notification for UI consumers.
func (n NormalizedNotification) View() NotificationView {
	return NotificationView{
		ID:         n.id,
		Title:      n.title,
		Body:       n.body,
		Data:       n.Data(),
		Origin:     n.origin,
		ReceivedAt: n.receivedAt,
	}
}

// CloneData returns a shallow copy of m, never nil.
func CloneData(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	maps.Copy(out, m)
	return out
}

// RemoteNotification is the display part of a cloud message.
type RemoteNotification struct {
	Title string
	Body  string
}

// RemoteMessage is a message delivered by the cloud messaging service.
// Notification may be nil for data-only messages.
type RemoteMessage struct {
	MessageID    string
	Notification *RemoteNotification
	Data         map[string]any
}

// LocalNotification is a notification observed by the local notification
// service. It already follows the canonical title/body/data shape.
type LocalNotification struct {
	Identifier string
	Title      string
	Body       string
	Data       map[string]any
}

// LocalResponse is the user's interaction with a presented notification.
type LocalResponse struct {
	Notification     LocalNotification
	ActionIdentifier string
}

// PermissionStatus is the local notification service's permission state.
type PermissionStatus string

const (
	PermissionUndetermined PermissionStatus = "undetermined"
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
)

// AuthorizationStatus is the cloud messaging service's authorization state.
type AuthorizationStatus string

const (
	AuthorizationNotDetermined AuthorizationStatus = "not-determined"
	AuthorizationDenied        AuthorizationStatus = "denied"
	AuthorizationAuthorized    AuthorizationStatus = "authorized"
	AuthorizationProvisional   AuthorizationStatus = "provisional"
)

// Permission denial reasons.
const (
	ReasonNoPhysicalDevice        = "no-physical-device"
	ReasonCloudMessagingDenied    = "cloud-messaging-denied"
	ReasonLocalNotificationDenied = "local-notification-denied"
	ReasonPermissionQueryFailed   = "permission-query-failed"
)

// PermissionState is the outcome of a negotiation. It is not persisted.
type PermissionState struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// Err returns a *PermissionDeniedError for a denied state, nil otherwise.
func (p PermissionState) Err() error {
	if p.Granted {
		return nil
	}
	return &PermissionDeniedError{Reason: p.Reason}
}

// Importance is the Android channel importance level.
type Importance string

const (
	ImportanceDefault Importance = "default"
	ImportanceHigh    Importance = "high"
	ImportanceMax     Importance = "max"
)

// LockscreenVisibility controls what a channel shows on the lock screen.
type LockscreenVisibility string

const (
	VisibilityPublic  LockscreenVisibility = "public"
	VisibilityPrivate LockscreenVisibility = "private"
	VisibilitySecret  LockscreenVisibility = "secret"
)

// ChannelConfig describes an Android notification channel.
type ChannelConfig struct {
	ID                   string
	Name                 string
	Importance           Importance
	VibrationPattern     []time.Duration
	LightColor           string
	LockscreenVisibility LockscreenVisibility
	EnableLights         bool
	EnableVibrate        bool
	ShowBadge            bool
}

// DefaultChannelConfig is the "default" high-importance channel.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		ID:                   "default",
		Name:                 "default",
		Importance:           ImportanceHigh,
		VibrationPattern:     []time.Duration{0, 250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond},
		LightColor:           "#FFF",
		LockscreenVisibility: VisibilityPublic,
		EnableLights:         true,
		EnableVibrate:        true,
		ShowBadge:            true,
	}
}

// PresentationOptions controls how notifications are shown while the app is
// in the foreground.
type PresentationOptions struct {
	PlaySound  bool
	SetBadge   bool
	ShowBanner bool
	ShowList   bool
}

// DefaultPresentationOptions enables every presentation feature.
func DefaultPresentationOptions() PresentationOptions {
	return PresentationOptions{PlaySound: true, SetBadge: true, ShowBanner: true, ShowList: true}
}

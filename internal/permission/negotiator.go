// Package permission decides whether the running device may receive push
// notifications.
package permission

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Negotiator asks the platform for notification permission. It keeps no
// state between calls: every Negotiate reflects the platform's present state.
type Negotiator struct {
	device push.Device
	local  push.LocalNotifier
	cloud  push.CloudMessaging
	logger *slog.Logger
}

func NewNegotiator(device push.Device, local push.LocalNotifier, cloud push.CloudMessaging, logger *slog.Logger) *Negotiator {
	return &Negotiator{
		device: device,
		local:  local,
		cloud:  cloud,
		logger: logger.With("component", "PermissionNegotiator"),
	}
}

// Negotiate runs the device check, the cloud authorization (iOS only) and
// the local permission check/request, stopping at the first denial.
func (n *Negotiator) Negotiate(ctx context.Context) push.PermissionState {
	if !n.device.IsPhysical() {
		return n.deny(push.ReasonNoPhysicalDevice, nil)
	}

	if n.device.Platform() == push.PlatformIOS {
		status, err := n.cloud.RequestPermission(ctx)
		if err != nil {
			return n.deny(push.ReasonCloudMessagingDenied, err)
		}
		if status != push.AuthorizationAuthorized && status != push.AuthorizationProvisional {
			n.logger.Debug("Cloud messaging authorization refused", "status", status)
			return n.deny(push.ReasonCloudMessagingDenied, nil)
		}
	}

	status, err := n.local.GetPermissions(ctx)
	if err != nil {
		return n.deny(push.ReasonPermissionQueryFailed, err)
	}
	if status != push.PermissionGranted {
		status, err = n.local.RequestPermissions(ctx)
		if err != nil {
			return n.deny(push.ReasonLocalNotificationDenied, err)
		}
	}
	if status != push.PermissionGranted {
		return n.deny(push.ReasonLocalNotificationDenied, nil)
	}

	n.logger.Debug("Notification permission granted")
	return push.PermissionState{Granted: true}
}

func (n *Negotiator) deny(reason string, err error) push.PermissionState {
	state := push.PermissionState{Granted: false, Reason: reason}
	if err != nil {
		n.logger.Warn("Notification permission denied", "reason", reason, "err", err)
	} else {
		n.logger.Warn("Notification permission denied", "reason", reason)
	}
	return state
}

// Package push contains the public domain model shared by the push client
// components: delivery contexts, routed events and platform-facing contracts.
package push

import (
	"strings"
	"time"
)

// Payload is the platform's notification user info. It is read-only here.
type Payload map[string]any

// Platform action identifiers carried by user responses.
const (
	DefaultActionID = "com.apple.UNNotificationDefaultActionIdentifier"
	DismissActionID = "com.apple.UNNotificationDismissActionIdentifier"
)

// LaunchRemoteNotificationKey is the launch option key holding a payload when
// the app was started by a remote notification.
const LaunchRemoteNotificationKey = "UIApplicationLaunchOptionsRemoteNotificationKey"

// DeliveryKind is the circumstance a notification arrived under.
type DeliveryKind int

const (
	ColdLaunch DeliveryKind = iota + 1
	Background
	ForegroundPresentation
	UserAction
)

func (k DeliveryKind) String() string {
	switch k {
	case ColdLaunch:
		return "cold_launch"
	case Background:
		return "background"
	case ForegroundPresentation:
		return "foreground_presentation"
	case UserAction:
		return "user_action"
	default:
		return "unknown"
	}
}

// DeliveryContext tags a single delivery event. ActionID is only set for
// UserAction.
type DeliveryContext struct {
	Kind     DeliveryKind
	ActionID string
}

func (c DeliveryContext) String() string {
	if c.Kind == UserAction {
		return c.Kind.String() + "(" + c.ActionID + ")"
	}
	return c.Kind.String()
}

// IsDismiss reports whether the user dismissed the notification.
func (c DeliveryContext) IsDismiss() bool {
	return c.Kind == UserAction && c.ActionID == DismissActionID
}

// IsDefaultTap reports whether the user tapped the notification body.
func (c DeliveryContext) IsDefaultTap() bool {
	return c.Kind == UserAction && c.ActionID == DefaultActionID
}

// Event is a classified delivery. ID identifies the delivery event, not the
// notification: two distinct deliveries of identical content have distinct IDs.
type Event struct {
	ID         string
	Context    DeliveryContext
	Payload    Payload
	ReceivedAt time.Time
}

// AuthorizationOptions are the capabilities requested from the user.
// Zero values mean the capability is not requested.
type AuthorizationOptions struct {
	Alert bool
	Badge bool
	Sound bool
}

// PresentationOptions tells the platform how to show a foreground notification.
type PresentationOptions uint8

const (
	PresentBanner PresentationOptions = 1 << iota
	PresentList
	PresentSound
	PresentBadge
	PresentAlert
)

// DefaultPresentation is the directive for current platforms.
const DefaultPresentation = PresentBanner | PresentList | PresentSound | PresentBadge

// LegacyPresentation is used where banner and list styles are unavailable.
const LegacyPresentation = PresentAlert | PresentSound | PresentBadge

var presentationNames = []struct {
	opt  PresentationOptions
	name string
}{
	{PresentBanner, "banner"},
	{PresentList, "list"},
	{PresentSound, "sound"},
	{PresentBadge, "badge"},
	{PresentAlert, "alert"},
}

// ParsePresentationOptions builds a directive from names such as "banner".
// Unknown names are reported in the second return value.
func ParsePresentationOptions(names []string) (PresentationOptions, []string) {
	var opts PresentationOptions
	var unknown []string
	for _, raw := range names {
		n := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, p := range presentationNames {
			if p.name == n {
				opts |= p.opt
				found = true
				break
			}
		}
		if !found && n != "" {
			unknown = append(unknown, raw)
		}
	}
	return opts, unknown
}

// Names lists the options in a stable order.
func (o PresentationOptions) Names() []string {
	var names []string
	for _, p := range presentationNames {
		if o&p.opt != 0 {
			names = append(names, p.name)
		}
	}
	return names
}

// BackgroundFetchResult acknowledges a background delivery.
type BackgroundFetchResult int

const (
	NewData BackgroundFetchResult = iota
	NoData
	Failed
)

func (r BackgroundFetchResult) String() string {
	switch r {
	case NewData:
		return "new_data"
	case NoData:
		return "no_data"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// TokenRecord is the persisted form of the registry state.
type TokenRecord struct {
	Token         string    `json:"token"`
	PreviousToken string    `json:"previous_token,omitempty"`
	DeviceID      string    `json:"device_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

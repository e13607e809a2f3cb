// Package push turns inbound push messages into displayed notifications
// and routes clicks on them to an existing or a new application window.
package push

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// Action is a button shown on a notification.
type Action struct {
	Action string `json:"action" yaml:"action"`
	Title  string `json:"title" yaml:"title"`
	Icon   string `json:"icon,omitempty" yaml:"icon"`
}

// Data is the payload carried by a notification until it is clicked.
type Data struct {
	URL string `json:"url" yaml:"url"`
}

type Notification struct {
	// ID is assigned by the Notifier when the notification is shown.
	ID                 string    `json:"id,omitempty"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Icon               string    `json:"icon"`
	Badge              string    `json:"badge"`
	Tag                string    `json:"tag"`
	Data               Data      `json:"data"`
	Actions            []Action  `json:"actions"`
	RequireInteraction bool      `json:"requireInteraction"`
	Silent             bool      `json:"silent"`
	ShownAt            time.Time `json:"shown_at,omitempty"`
}

// Defaults are the notification fields used when a push message
// carries no payload, an unreadable one, or leaves a field out.
type Defaults struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
	Icon  string `yaml:"icon"`
	Badge string `yaml:"badge"`
	Tag   string `yaml:"tag"`
	URL   string `yaml:"url"`
	// ActionIcon is the icon of the "open" action button.
	ActionIcon string `yaml:"actionIcon"`
}

func DefaultDefaults() Defaults {
	return Defaults{
		Title:      "New Notification",
		Body:       "You have a new message!",
		Icon:       "/icons/icon-192x192.png",
		Badge:      "/icons/icon-32x32.png",
		Tag:        "default-notification",
		URL:        "/",
		ActionIcon: "/icons/icon-32x32.png",
	}
}

// withFallback fills every empty field of d from DefaultDefaults.
func (d Defaults) withFallback() Defaults {
	def := DefaultDefaults()
	fill := func(v *string, fallback string) {
		if *v == "" {
			*v = fallback
		}
	}
	fill(&d.Title, def.Title)
	fill(&d.Body, def.Body)
	fill(&d.Icon, def.Icon)
	fill(&d.Badge, def.Badge)
	fill(&d.Tag, def.Tag)
	fill(&d.URL, def.URL)
	fill(&d.ActionIcon, def.ActionIcon)
	return d
}

func (d Defaults) notification() Notification {
	return Notification{
		Title: d.Title,
		Body:  d.Body,
		Icon:  d.Icon,
		Badge: d.Badge,
		Tag:   d.Tag,
		Data:  Data{URL: d.URL},
		Actions: []Action{
			{Action: ActionOpen, Title: "Open App", Icon: d.ActionIcon},
			{Action: ActionClose, Title: "Close"},
		},
	}
}

// Decode builds the notification for a push payload.
// Every field the payload sets to a non-empty string overrides the default;
// anything else, including an unparsable payload, keeps the default.
// Text is kept as sent: notifications display it literally.
// The returned error only reports why the payload was ignored.
func Decode(data []byte, defaults Defaults) (Notification, error) {
	n := defaults.withFallback().notification()
	if len(strings.TrimSpace(string(data))) == 0 {
		return n, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return n, err
	}

	override := func(dst *string, raw json.RawMessage) {
		var s string
		if raw == nil || json.Unmarshal(raw, &s) != nil {
			return
		}
		if strings.TrimSpace(s) != "" {
			*dst = s
		}
	}
	override(&n.Title, fields["title"])
	override(&n.Body, fields["body"])
	override(&n.Icon, fields["icon"])
	override(&n.Badge, fields["badge"])
	override(&n.Tag, fields["tag"])

	if raw, ok := fields["data"]; ok {
		var data map[string]json.RawMessage
		if json.Unmarshal(raw, &data) == nil {
			override(&n.Data.URL, data["url"])
		}
	}
	return n, nil
}

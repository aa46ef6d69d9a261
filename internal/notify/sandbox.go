package notify

import (
	"github.com/lalithlochan/medinotify/internal/phone"
	"github.com/lalithlochan/medinotify/internal/sender"
)

// Sandbox redirects every recipient to fixed test destinations while leaving
// the content untouched.
type Sandbox struct {
	Enabled   bool
	Email     string
	Messaging string // already in E.164 form
}

// Router resolves the address a channel actually delivers to.
type Router struct {
	sandbox     Sandbox
	countryCode string
}

func NewRouter(sandbox Sandbox, countryCode string) Router {
	if countryCode == "" {
		countryCode = phone.DefaultCountryCode
	}
	return Router{sandbox: sandbox, countryCode: countryCode}
}

// Recipient maps the request's raw destination to the delivery address.
// Messaging destinations are normalized unless sandboxed. A sandbox without
// an address for the channel is a configuration error.
func (r Router) Recipient(channel sender.Channel, raw string) (string, error) {
	if r.sandbox.Enabled {
		addr := r.sandboxAddress(channel)
		if addr == "" {
			return "", &sender.ConfigError{Channel: channel, Reason: "sandbox mode active without a sandbox address"}
		}
		return addr, nil
	}

	if channel == sender.ChannelMessaging {
		return phone.Parse(raw, r.countryCode)
	}
	return raw, nil
}

func (r Router) sandboxAddress(channel sender.Channel) string {
	switch channel {
	case sender.ChannelEmail:
		return r.sandbox.Email
	case sender.ChannelMessaging:
		return r.sandbox.Messaging
	default:
		return ""
	}
}

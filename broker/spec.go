// Package broker defines the read-only removal specification a broker
// exposes (which channel it supports and how to drive it) and the
// registry interfaces used to look specs up.
package broker

import (
	"fmt"
	"regexp"
)

// Channel represents the removal delivery mechanism a broker supports.
type Channel string

const (
	// ChannelHTTPForm is a plain HTTP form submission.
	ChannelHTTPForm Channel = "http_form"

	// ChannelBrowserForm is a JavaScript-heavy form requiring a real
	// rendered browser.
	ChannelBrowserForm Channel = "browser_form"

	// ChannelEmail is an email-only opt-out.
	ChannelEmail Channel = "email"
)

// IsValid returns true if the channel is one of the three supported
// mechanisms.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelHTTPForm, ChannelBrowserForm, ChannelEmail:
		return true
	default:
		return false
	}
}

// FormSpec configures the HTTP form channel.
type FormSpec struct {
	// URL is the opt-out form endpoint.
	URL string `yaml:"url" json:"url"`

	// Method is the HTTP method; POST when empty.
	Method string `yaml:"method,omitempty" json:"method,omitempty"`

	// Fields maps form field names to value templates. Templates may use
	// {{field}} placeholders resolved from the profile fields.
	Fields map[string]string `yaml:"fields" json:"fields"`

	// SuccessMarker is the substring whose presence in the response body
	// signals acceptance. Status codes are not trusted: some brokers
	// return 200 with an error page.
	SuccessMarker string `yaml:"success_marker" json:"success_marker"`
}

// BrowserSpec configures the browser-driven form channel.
type BrowserSpec struct {
	// URL is the opt-out form page.
	URL string `yaml:"url" json:"url"`

	// Selectors maps CSS selectors to the profile field filled into each.
	Selectors map[string]string `yaml:"selectors" json:"selectors"`

	// SubmitSelector locates the submit control.
	SubmitSelector string `yaml:"submit_selector" json:"submit_selector"`

	// SuccessSelector, when it appears after submission, signals success.
	SuccessSelector string `yaml:"success_selector" json:"success_selector"`

	// CaptchaSelector, when present on the page, marks a CAPTCHA
	// challenge the engine cannot pass automatically.
	CaptchaSelector string `yaml:"captcha_selector,omitempty" json:"captcha_selector,omitempty"`

	// ErrorSelector locates an inline error message shown on rejection.
	ErrorSelector string `yaml:"error_selector,omitempty" json:"error_selector,omitempty"`
}

// MailSpec configures the email opt-out channel.
type MailSpec struct {
	// Recipient is the broker's opt-out address.
	Recipient string `yaml:"recipient" json:"recipient"`

	// SubjectTemplate renders the message subject with {{field}}
	// placeholders.
	SubjectTemplate string `yaml:"subject_template" json:"subject_template"`

	// BodyTemplate renders the message body with {{field}} placeholders.
	BodyTemplate string `yaml:"body_template" json:"body_template"`

	// ConfirmationSender is the exact address confirmation mail arrives
	// from. The mailbox poller matches it case-insensitively and never by
	// substring.
	ConfirmationSender string `yaml:"confirmation_sender,omitempty" json:"confirmation_sender,omitempty"`

	// LinkPattern is a regular expression extracting the confirmation
	// link from a matched message body.
	LinkPattern string `yaml:"link_pattern,omitempty" json:"link_pattern,omitempty"`

	// RequiresVerification marks brokers whose removal is final only
	// after the confirmation link is followed.
	RequiresVerification bool `yaml:"requires_verification,omitempty" json:"requires_verification,omitempty"`
}

// RemovalSpec is the read-only description of how to request removal from
// one broker. Exactly one channel section matching Channel must be set.
type RemovalSpec struct {
	// BrokerID identifies the broker.
	BrokerID string `yaml:"broker_id" json:"broker_id"`

	// Name is the broker's display name.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Channel selects the removal mechanism.
	Channel Channel `yaml:"channel" json:"channel"`

	// Form configures the HTTP form channel.
	Form *FormSpec `yaml:"form,omitempty" json:"form,omitempty"`

	// Browser configures the browser-driven form channel.
	Browser *BrowserSpec `yaml:"browser,omitempty" json:"browser,omitempty"`

	// Mail configures the email channel.
	Mail *MailSpec `yaml:"mail,omitempty" json:"mail,omitempty"`
}

// Validate checks structural consistency between Channel and the channel
// sections, and compiles the link pattern if one is declared.
func (s *RemovalSpec) Validate() error {
	if s.BrokerID == "" {
		return fmt.Errorf("broker_id is required")
	}
	if !s.Channel.IsValid() {
		return fmt.Errorf("broker %s: unknown channel %q", s.BrokerID, s.Channel)
	}

	switch s.Channel {
	case ChannelHTTPForm:
		if s.Form == nil {
			return fmt.Errorf("broker %s: channel http_form requires a form section", s.BrokerID)
		}
		if s.Form.URL == "" {
			return fmt.Errorf("broker %s: form.url is required", s.BrokerID)
		}
		if s.Form.SuccessMarker == "" {
			return fmt.Errorf("broker %s: form.success_marker is required", s.BrokerID)
		}
	case ChannelBrowserForm:
		if s.Browser == nil {
			return fmt.Errorf("broker %s: channel browser_form requires a browser section", s.BrokerID)
		}
		if s.Browser.URL == "" {
			return fmt.Errorf("broker %s: browser.url is required", s.BrokerID)
		}
		if s.Browser.SubmitSelector == "" {
			return fmt.Errorf("broker %s: browser.submit_selector is required", s.BrokerID)
		}
	case ChannelEmail:
		if s.Mail == nil {
			return fmt.Errorf("broker %s: channel email requires a mail section", s.BrokerID)
		}
		if s.Mail.Recipient == "" {
			return fmt.Errorf("broker %s: mail.recipient is required", s.BrokerID)
		}
		if s.Mail.BodyTemplate == "" {
			return fmt.Errorf("broker %s: mail.body_template is required", s.BrokerID)
		}
		if s.Mail.RequiresVerification && s.Mail.ConfirmationSender == "" {
			return fmt.Errorf("broker %s: mail.confirmation_sender is required when requires_verification is set", s.BrokerID)
		}
		if s.Mail.LinkPattern != "" {
			if _, err := regexp.Compile(s.Mail.LinkPattern); err != nil {
				return fmt.Errorf("broker %s: invalid mail.link_pattern: %w", s.BrokerID, err)
			}
		}
	}

	return nil
}

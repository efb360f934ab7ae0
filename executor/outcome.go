package executor

// OutcomeKind tags the closed set of execution outcomes.
type OutcomeKind string

const (
	// OutcomeSubmitted indicates the request reached the broker.
	OutcomeSubmitted OutcomeKind = "submitted"

	// OutcomeAwaitingVerification indicates the request was sent but the
	// broker requires a confirmation step before removal is final.
	OutcomeAwaitingVerification OutcomeKind = "awaiting_verification"

	// OutcomeRequiresCaptcha indicates a CAPTCHA challenge blocked
	// automated submission; user intervention is needed.
	OutcomeRequiresCaptcha OutcomeKind = "requires_captcha"

	// OutcomeFailed indicates the submission failed.
	OutcomeFailed OutcomeKind = "failed"
)

// MailReceipt carries the send-log data for a mail-channel submission. The
// body is held only long enough for the dispatcher to hash it into
// evidence; it is never persisted raw.
type MailReceipt struct {
	// Recipient is the broker opt-out address the message went to.
	Recipient string

	// Subject is the rendered message subject.
	Subject string

	// Body is the rendered message body.
	Body string

	// Method records how the message left: "smtp" or "mailto".
	Method string

	// MailtoURL is the composed hand-off URL for the mailto method.
	MailtoURL string
}

// Outcome is the tagged result of one executor run. Exactly the fields
// relevant to Kind are set.
type Outcome struct {
	// Kind tags the outcome variant.
	Kind OutcomeKind

	// CaptchaURL is the escalation URL for a CAPTCHA outcome.
	CaptchaURL string

	// Reason is the human-readable failure reason.
	Reason string

	// Details carries optional technical failure detail.
	Details string

	// Screenshot is the browser channel's captured proof, present when a
	// browser attempt reached submission.
	Screenshot []byte

	// Mail is the mail channel's send log data.
	Mail *MailReceipt
}

// Submitted constructs a successful submission outcome.
func Submitted() Outcome {
	return Outcome{Kind: OutcomeSubmitted}
}

// AwaitingVerification constructs an outcome parked on broker confirmation.
func AwaitingVerification() Outcome {
	return Outcome{Kind: OutcomeAwaitingVerification}
}

// RequiresCaptcha constructs an escalation outcome with the challenge URL.
func RequiresCaptcha(url string) Outcome {
	return Outcome{Kind: OutcomeRequiresCaptcha, CaptchaURL: url}
}

// Failed constructs a failure outcome.
func Failed(reason, details string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Details: details}
}

// RequiresUserAction reports whether the outcome needs user intervention.
func (o Outcome) RequiresUserAction() bool {
	return o.Kind == OutcomeRequiresCaptcha || o.Kind == OutcomeAwaitingVerification
}

// IsFailure reports whether the outcome is a failure.
func (o Outcome) IsFailure() bool {
	return o.Kind == OutcomeFailed
}

// IsSuccess reports whether the request reached the broker.
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSubmitted || o.Kind == OutcomeAwaitingVerification
}

package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/credential"
	"github.com/optout-labs/redress/executor"
)

type fakeSender struct {
	sent    bool
	creds   credential.SMTP
	rcpt    string
	subject string
	body    string
	err     error
}

func (f *fakeSender) Send(_ context.Context, creds credential.SMTP, rcpt, subject, body string) error {
	f.sent = true
	f.creds = creds
	f.rcpt = rcpt
	f.subject = subject
	f.body = body
	return f.err
}

type fakeOpener struct {
	opened string
	err    error
}

func (f *fakeOpener) Open(_ context.Context, mailtoURL string) error {
	f.opened = mailtoURL
	return f.err
}

func mailSpec(requiresVerification bool) *broker.RemovalSpec {
	return &broker.RemovalSpec{
		BrokerID: "beenverified",
		Channel:  broker.ChannelEmail,
		Mail: &broker.MailSpec{
			Recipient:            "privacy@beenverified.test",
			SubjectTemplate:      "Removal request for {{full_name}}",
			BodyTemplate:         "Please remove {{listing_url}} for {{full_name}}.",
			ConfirmationSender:   "optout@beenverified.test",
			RequiresVerification: requiresVerification,
		},
	}
}

func profileFields() executor.Fields {
	return executor.Fields{
		"full_name":   "Alice Smith",
		"listing_url": "https://beenverified.test/p/7",
	}
}

func smtpCreds() credential.Static {
	return credential.Static{SMTPCreds: &credential.SMTP{
		Host: "smtp.example.com", Port: 587,
		Username: "alice", Password: "secret",
		From: "alice@example.com",
	}}
}

func TestExecuteSMTP(t *testing.T) {
	sender := &fakeSender{}
	opener := &fakeOpener{}
	e := New(smtpCreds(), WithSender(sender), WithOpener(opener))

	out, err := e.Execute(context.Background(), mailSpec(false), profileFields())
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeSubmitted, out.Kind)
	require.NotNil(t, out.Mail)
	assert.Equal(t, MethodSMTP, out.Mail.Method)
	assert.Equal(t, "privacy@beenverified.test", out.Mail.Recipient)
	assert.Equal(t, "Removal request for Alice Smith", out.Mail.Subject)
	assert.Contains(t, out.Mail.Body, "https://beenverified.test/p/7")

	assert.True(t, sender.sent)
	assert.Equal(t, "privacy@beenverified.test", sender.rcpt)
	assert.Empty(t, opener.opened, "mailto must not be used when smtp is configured")
}

func TestExecuteMailtoFallback(t *testing.T) {
	sender := &fakeSender{}
	opener := &fakeOpener{}
	e := New(credential.None{}, WithSender(sender), WithOpener(opener))

	out, err := e.Execute(context.Background(), mailSpec(false), profileFields())
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeSubmitted, out.Kind)
	require.NotNil(t, out.Mail)
	assert.Equal(t, MethodMailto, out.Mail.Method)
	assert.False(t, sender.sent)

	assert.Contains(t, opener.opened, "mailto:privacy@beenverified.test?subject=")
	assert.Contains(t, opener.opened, "Removal%20request%20for%20Alice%20Smith")
	assert.NotContains(t, opener.opened, "+", "spaces must be %20, not plus")
	assert.Equal(t, opener.opened, out.Mail.MailtoURL)
}

func TestExecuteRequiresVerification(t *testing.T) {
	e := New(smtpCreds(), WithSender(&fakeSender{}), WithOpener(&fakeOpener{}))

	out, err := e.Execute(context.Background(), mailSpec(true), profileFields())
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeAwaitingVerification, out.Kind)
}

func TestExecuteMissingFieldStaysLiteral(t *testing.T) {
	sender := &fakeSender{}
	e := New(smtpCreds(), WithSender(sender), WithOpener(&fakeOpener{}))

	spec := mailSpec(false)
	spec.Mail.BodyTemplate = "Please remove {{listing_url}} for {{full_name}}, nickname {{nickname}}."

	out, err := e.Execute(context.Background(), spec, profileFields())
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeSubmitted, out.Kind)
	assert.True(t, sender.sent, "a missing optional field must not block the send")
	assert.Contains(t, sender.body, "nickname {{nickname}}",
		"unresolved placeholders go out literally")
	assert.Contains(t, sender.body, "https://beenverified.test/p/7")
	require.NotNil(t, out.Mail)
	assert.Contains(t, out.Mail.Body, "{{nickname}}")
}

func TestExecuteSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	e := New(smtpCreds(), WithSender(sender), WithOpener(&fakeOpener{}))

	out, err := e.Execute(context.Background(), mailSpec(false), profileFields())
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeFailed, out.Kind)
	assert.Equal(t, "mail send failed", out.Reason)
	assert.Contains(t, out.Details, "connection refused")
}

func TestExecuteOpenerFailure(t *testing.T) {
	opener := &fakeOpener{err: errors.New("no handler for mailto")}
	e := New(credential.None{}, WithSender(&fakeSender{}), WithOpener(opener))

	out, err := e.Execute(context.Background(), mailSpec(false), profileFields())
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeFailed, out.Kind)
	assert.Equal(t, "failed to open system mail client", out.Reason)
}

func TestExecuteWrongChannel(t *testing.T) {
	e := New(credential.None{})
	spec := &broker.RemovalSpec{BrokerID: "x", Channel: broker.ChannelHTTPForm}
	_, err := e.Execute(context.Background(), spec, profileFields())
	require.Error(t, err)
}

func TestComposeMailtoEncoding(t *testing.T) {
	got := composeMailto("a@b.test", "Hello & goodbye", "line one\nline two")

	assert.Contains(t, got, "subject=Hello%20%26%20goodbye")
	assert.Contains(t, got, "body=line%20one%0Aline%20two")
}

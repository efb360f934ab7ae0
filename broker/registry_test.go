package broker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFormSpec() *RemovalSpec {
	return &RemovalSpec{
		BrokerID: "spokeo",
		Name:     "Spokeo",
		Channel:  ChannelHTTPForm,
		Form: &FormSpec{
			URL:           "https://spokeo.com/optout",
			Fields:        map[string]string{"url": "{{listing_url}}", "email": "{{email}}"},
			SuccessMarker: "has been removed",
		},
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RemovalSpec)
		errMsg string
	}{
		{"valid form spec", func(s *RemovalSpec) {}, ""},
		{"missing broker id", func(s *RemovalSpec) { s.BrokerID = "" }, "broker_id is required"},
		{"unknown channel", func(s *RemovalSpec) { s.Channel = "carrier_pigeon" }, "unknown channel"},
		{"form channel without form section", func(s *RemovalSpec) { s.Form = nil }, "requires a form section"},
		{"form without success marker", func(s *RemovalSpec) { s.Form.SuccessMarker = "" }, "success_marker is required"},
		{
			"browser channel without submit selector",
			func(s *RemovalSpec) {
				s.Channel = ChannelBrowserForm
				s.Browser = &BrowserSpec{URL: "https://x.test/optout"}
			},
			"submit_selector is required",
		},
		{
			"email requiring verification without sender",
			func(s *RemovalSpec) {
				s.Channel = ChannelEmail
				s.Mail = &MailSpec{
					Recipient:            "optout@x.test",
					BodyTemplate:         "remove {{full_name}}",
					RequiresVerification: true,
				}
			},
			"confirmation_sender is required",
		},
		{
			"email with bad link pattern",
			func(s *RemovalSpec) {
				s.Channel = ChannelEmail
				s.Mail = &MailSpec{
					Recipient:    "optout@x.test",
					BodyTemplate: "remove me",
					LinkPattern:  "https?://[",
				}
			},
			"invalid mail.link_pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validFormSpec()
			tt.mutate(spec)
			err := spec.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	spokeo := `
broker_id: spokeo
name: Spokeo
channel: http_form
form:
  url: https://spokeo.com/optout
  fields:
    url: "{{listing_url}}"
    email: "{{email}}"
  success_marker: has been removed
`
	beenverified := `
broker_id: beenverified
channel: email
mail:
  recipient: privacy@beenverified.test
  subject_template: "Opt-Out Request - {{full_name}}"
  body_template: "Please remove {{full_name}} ({{listing_url}})."
  confirmation_sender: verify@beenverified.test
  link_pattern: "https://beenverified\\.test/confirm/[a-z0-9]+"
  requires_verification: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spokeo.yaml"), []byte(spokeo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beenverified.yml"), []byte(beenverified), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	reg, err := LoadDir(dir)
	require.NoError(t, err)

	ctx := context.Background()

	got, err := reg.Get(ctx, "beenverified")
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, got.Channel)
	assert.True(t, got.Mail.RequiresVerification)
	assert.Equal(t, "verify@beenverified.test", got.Mail.ConfirmationSender)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "beenverified", all[0].BrokerID)
	assert.Equal(t, "spokeo", all[1].BrokerID)

	_, err = reg.Get(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSpecNotFound)
}

func TestLoadDirRejectsInvalidSpec(t *testing.T) {
	dir := t.TempDir()
	bad := "broker_id: broken\nchannel: http_form\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(bad), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a form section")
}

func TestLoadDirRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	spec := `
broker_id: spokeo
channel: http_form
form:
  url: https://spokeo.com/optout
  success_marker: removed
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(spec), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(spec), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate spec")
}

func TestStaticRegistry(t *testing.T) {
	reg := NewStaticRegistry(validFormSpec())

	got, err := reg.Get(context.Background(), "spokeo")
	require.NoError(t, err)
	assert.Equal(t, "Spokeo", got.Name)
}

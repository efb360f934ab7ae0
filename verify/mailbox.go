package verify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/optout-labs/redress/credential"
)

// Message is one unread message surfaced by the mailbox.
type Message struct {
	// Sender is the envelope From address.
	Sender string

	// Body is the message text.
	Body string
}

// Mailbox is a read-only view of the user's inbox for one poll cycle.
type Mailbox interface {
	// Unread returns unseen messages no older than MaxVerificationAge.
	Unread(ctx context.Context) ([]Message, error)

	// Close tears the session down.
	Close() error
}

// DialFunc opens a mailbox session with the given credentials. The
// production implementation speaks IMAP over TLS.
type DialFunc func(ctx context.Context, creds credential.IMAP) (Mailbox, error)

// DialIMAP opens an IMAP session, logs in, and selects INBOX.
func DialIMAP(_ context.Context, creds credential.IMAP) (Mailbox, error) {
	addr := creds.Host + ":" + strconv.Itoa(creds.Port)
	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}

	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	return &imapMailbox{client: client}, nil
}

// imapMailbox reads confirmation mail without side effects: body fetches
// use BODY.PEEK so nothing is ever marked seen, and the session never
// deletes or sends.
type imapMailbox struct {
	client *imapclient.Client
}

func (m *imapMailbox) Unread(_ context.Context) ([]Message, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Since:   timeNow().Add(-MaxVerificationAge),
	}
	data, err := m.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	nums := data.AllSeqNums()
	if len(nums) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierText,
		Peek:      true,
	}
	opts := &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{section},
	}
	bufs, err := m.client.Fetch(imap.SeqSetNum(nums...), opts).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	var msgs []Message
	for _, buf := range bufs {
		if buf.Envelope == nil || len(buf.Envelope.From) == 0 {
			continue
		}
		msgs = append(msgs, Message{
			Sender: buf.Envelope.From[0].Addr(),
			Body:   string(buf.FindBodySection(section)),
		})
	}
	return msgs, nil
}

func (m *imapMailbox) Close() error {
	// Best effort; the server drops the session either way.
	_ = m.client.Logout().Wait()
	return m.client.Close()
}

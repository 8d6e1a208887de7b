package watcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
)

// IMAPTransport implements Transport over an IMAP connection with IDLE.
type IMAPTransport struct {
	addr     string
	client   *imapclient.Client
	idleWake chan struct{}
}

// NewIMAPDialer returns a Dialer producing transports for the given IMAP
// server address (host:port, implicit TLS).
func NewIMAPDialer(addr string) Dialer {
	return func() Transport {
		return &IMAPTransport{
			addr:     addr,
			idleWake: make(chan struct{}, 1),
		}
	}
}

// Connect dials the server and authenticates with XOAUTH2.
func (t *IMAPTransport) Connect(_ context.Context, address, accessToken string) error {
	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case t.idleWake <- struct{}{}:
					default:
					}
				}
			},
		},
	}

	client, err := imapclient.DialTLS(t.addr, options)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}

	if err := client.Authenticate(newXOAuth2Client(address, accessToken)); err != nil {
		client.Close()
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	t.client = client
	return nil
}

// SelectInbox opens INBOX and returns its next assignable UID.
func (t *IMAPTransport) SelectInbox() (uint32, error) {
	data, err := t.client.Select("INBOX", nil).Wait()
	if err != nil {
		return 0, err
	}
	return uint32(data.UIDNext), nil
}

// SearchUnseenFrom runs a UID search for unread mail from sender at or
// above minUID.
func (t *IMAPTransport) SearchUnseenFrom(sender string, minUID uint32) ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: sender},
		},
	}
	if minUID > 0 {
		criteria.UID = []imap.UIDSet{{imap.UIDRange{Start: imap.UID(minUID), Stop: 0}}}
	}

	data, err := t.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}

	uids := make([]uint32, 0, len(data.AllUIDs()))
	for _, uid := range data.AllUIDs() {
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

// Fetch retrieves the envelope and full body of one message.
func (t *IMAPTransport) Fetch(uid uint32) (*Message, error) {
	bodySection := &imap.FetchItemBodySection{}
	options := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	messages, err := t.client.Fetch(imap.UIDSetNum(imap.UID(uid)), options).Collect()
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("uid %d not found", uid)
	}

	buf := messages[0]
	raw := buf.FindBodySection(bodySection)

	msg := &Message{
		UID:  uid,
		Body: extractBody(raw),
	}
	if buf.Envelope != nil {
		msg.MessageID = buf.Envelope.MessageID
		msg.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			msg.From = fmt.Sprintf("%s@%s", from.Mailbox, from.Host)
		}
	}
	return msg, nil
}

// MarkSeen adds the \Seen flag.
func (t *IMAPTransport) MarkSeen(uid uint32) error {
	flags := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}
	return t.client.Store(imap.UIDSetNum(imap.UID(uid)), flags, nil).Close()
}

// IdleWait issues IDLE and blocks until new mail, timeout, or cancellation,
// then terminates the server-side idle state.
func (t *IMAPTransport) IdleWait(ctx context.Context, timeout time.Duration) (bool, error) {
	// Drop a wake left over from outside the idle window.
	select {
	case <-t.idleWake:
	default:
	}

	idleCmd, err := t.client.Idle()
	if err != nil {
		return false, fmt.Errorf("start idle: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	notified := false
	select {
	case <-t.idleWake:
		notified = true
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := idleCmd.Close(); err != nil {
		return notified, fmt.Errorf("end idle: %w", err)
	}
	if err := idleCmd.Wait(); err != nil {
		return notified, fmt.Errorf("end idle: %w", err)
	}
	if ctx.Err() != nil {
		return notified, ctx.Err()
	}
	return notified, nil
}

// Close logs out and closes the connection.
func (t *IMAPTransport) Close() error {
	if t.client == nil {
		return nil
	}
	// Best-effort logout; the close below is what matters.
	if err := t.client.Logout().Wait(); err != nil {
		return t.client.Close()
	}
	return t.client.Close()
}

// extractBody pulls the text content out of a raw RFC 822 message,
// preferring text/plain over text/html.
func extractBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer reader.Close()

	var plain, html string
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.EqualFold(contentType, "text/plain") && plain == "":
			plain = string(content)
		case strings.EqualFold(contentType, "text/html") && html == "":
			html = string(content)
		}
	}

	if plain != "" {
		return plain
	}
	if html != "" {
		return html
	}
	return string(raw)
}

// xoauth2Client is the XOAUTH2 SASL mechanism (absent from go-sasl
// upstream). The initial response format is
// "user=<addr>\x01auth=Bearer <token>\x01\x01".
type xoauth2Client struct {
	identity string
	token    string
}

func newXOAuth2Client(identity, token string) sasl.Client {
	return &xoauth2Client{identity: identity, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	resp := "user=" + c.identity + "\x01auth=Bearer " + c.token + "\x01\x01"
	return "XOAUTH2", []byte(resp), nil
}

func (c *xoauth2Client) Next([]byte) ([]byte, error) {
	// On failure the server sends a JSON challenge; an empty response
	// elicits the final NO.
	return []byte{}, nil
}

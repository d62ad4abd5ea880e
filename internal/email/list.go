package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/mymeta/agent/internal/config"
)

// Envelope is one inbox entry, trimmed to what the model needs.
type Envelope struct {
	UID     uint32    `json:"uid"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Seen    bool      `json:"seen"`
}

// ListRecent connects to the configured mailbox and returns up to
// limit envelopes, newest first. Each call uses its own ephemeral
// connection; with unseenOnly set, read messages are skipped.
func ListRecent(cfg config.IMAPConfig, limit int, unseenOnly bool) ([]Envelope, error) {
	if limit <= 0 {
		limit = 10
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: cfg.Host},
	})
	if err != nil {
		return nil, fmt.Errorf("dial IMAP %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		return nil, fmt.Errorf("login as %s: %w", cfg.Username, err)
	}
	defer client.Logout()

	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}

	criteria := &imap.SearchCriteria{}
	if unseenOnly {
		criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", mailbox, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	msgs, err := client.Fetch(uidSet, &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		Flags:    true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	envelopes := make([]Envelope, 0, len(msgs))
	for _, m := range msgs {
		if m.Envelope == nil {
			continue
		}
		env := Envelope{
			UID:     uint32(m.UID),
			Subject: m.Envelope.Subject,
			Date:    m.Envelope.Date,
		}
		if len(m.Envelope.From) > 0 {
			env.From = m.Envelope.From[0].Addr()
		}
		for _, f := range m.Flags {
			if f == imap.FlagSeen {
				env.Seen = true
			}
		}
		envelopes = append(envelopes, env)
	}

	// Newest first.
	for i, j := 0, len(envelopes)-1; i < j; i, j = i+1, j-1 {
		envelopes[i], envelopes[j] = envelopes[j], envelopes[i]
	}
	return envelopes, nil
}

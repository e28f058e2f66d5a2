package mail

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
	subjectPrefix    = "[Nexus] "
)

// SendgridSender delivers mail through the SendGrid v3 API.
type SendgridSender struct {
	key  string
	from *sgmail.Email
	host string
}

// NewSendgridSender creates a sender authenticated with apiKey.
func NewSendgridSender(apiKey, from string) *SendgridSender {
	return &SendgridSender{
		key:  apiKey,
		from: sgmail.NewEmail("Nexus", from),
		host: sendgridHost,
	}
}

func (s *SendgridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = subjectPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail("", msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	return m
}

// Send returns an error for transport failures and 4xx/5xx responses so the
// calling task can retry.
func (s *SendgridSender) Send(ctx context.Context, msg Message) error {
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid rejected email: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

package brevo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"

	"github.com/kirinyoku/joynous/internal/domain"
)

const DefaultBaseURL = "https://api.brevo.com"

var ErrNotConfigured = errors.New("email service configuration is missing")

type Config struct {
	BaseURL     string
	APIKey      string
	SenderEmail string
	SenderName  string
	Timeout     time.Duration
}

// Client sends transactional e-mails through the Brevo SDK.
type Client struct {
	api *brevo.APIClient
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	if cfg.SenderName == "" {
		cfg.SenderName = "Joynous"
	}

	bc := brevo.NewConfiguration()
	bc.BasePath = strings.TrimRight(cfg.BaseURL, "/") + "/v3"
	bc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	bc.AddDefaultHeader("api-key", cfg.APIKey)

	return &Client{
		api: brevo.NewAPIClient(bc),
		cfg: cfg,
	}
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<p>Hello {{.RecipientName}},</p>
<h3>Your registration details:</h3>
<ul>
  <li>Event: {{.EventName}}</li>
  <li>Date: {{.EventDate.Format "Mon, 02 Jan 2006 15:04"}}</li>
  <li>Venue: {{.Venue}}</li>
  <li>Tickets: {{.TicketQuantity}}{{range $i, $n := .TicketNames}}{{if $i}},{{end}} {{$n}}{{end}}</li>
</ul>
<p>We look forward to seeing you at the event!</p>
<p>Payment Amount: &#8377;{{.Amount}}</p>
<p>Transaction ID: {{.PaymentReference}}</p>
`))

// SendConfirmation e-mails the attendee that the registration is confirmed.
//
// Parameters:
//   - ctx: bounds the HTTP exchange.
//   - conf: confirmation details.
//
// Returns:
//   - error: brevo.ErrNotConfigured without an API key or sender, otherwise
//     any transport error or non-2xx response.
func (c *Client) SendConfirmation(ctx context.Context, conf domain.Confirmation) error {
	const op = "brevo.Client.SendConfirmation"

	if c.cfg.APIKey == "" || c.cfg.SenderEmail == "" {
		return fmt.Errorf("%s:%w", op, ErrNotConfigured)
	}

	var html bytes.Buffer
	if err := confirmationTmpl.Execute(&html, conf); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	_, resp, err := c.api.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Email: c.cfg.SenderEmail,
			Name:  c.cfg.SenderName,
		},
		To: []brevo.SendSmtpEmailTo{{
			Email: conf.RecipientEmail,
			Name:  conf.RecipientName,
		}},
		Subject:     "Registration Confirmed: " + conf.EventName,
		HtmlContent: html.String(),
	})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%s: unexpected status code %d: %w", op, resp.StatusCode, err)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

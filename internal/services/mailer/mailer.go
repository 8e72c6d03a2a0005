// Package mailer delivers invitation emails. Delivery is best-effort: callers
// log and count failures but never undo the invitation because of them.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/metrics"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/validation"
)

//go:embed templates/*.html
var templateFS embed.FS

var invitationTmpl = template.Must(template.ParseFS(templateFS, "templates/invitation.html"))

type InvitationEmail struct {
	ClientEmail     string `json:"clientEmail" validate:"required,email"`
	InvitationLink  string `json:"invitationLink" validate:"required,url"`
	ProjectTitle    string `json:"projectTitle" validate:"required"`
	FreelancerName  string `json:"freelancerName" validate:"required"`
	FreelancerEmail string `json:"freelancerEmail" validate:"omitempty,email"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
}

func (m InvitationEmail) Subject() string {
	return fmt.Sprintf("%s invited you to %s", m.FreelancerName, m.ProjectTitle)
}

// Render returns the HTML body.
func (m InvitationEmail) Render() (string, error) {
	var buf bytes.Buffer
	if err := invitationTmpl.Execute(&buf, m); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Sender delivers an invitation and returns the provider's message id.
type Sender interface {
	SendInvitation(ctx context.Context, m InvitationEmail) (string, error)
}

// InvitationLink builds the client-facing link for a token.
func InvitationLink(frontendBase, token string) string {
	return strings.TrimRight(frontendBase, "/") + "/invite/" + url.PathEscape(token)
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends through Amazon SES v2.
type SESSender struct {
	client sesAPI
	from   string
	log    *zap.Logger
}

func NewSESSender(ctx context.Context, accessKey, secretKey, region, from string, log *zap.Logger) (*SESSender, error) {
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("accessKey or secretKey is empty")
	}
	cred := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
	cfg, err := config.LoadDefaultConfig(ctx, config.WithCredentialsProvider(cred), config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg), from: from, log: log}, nil
}

func (s *SESSender) SendInvitation(ctx context.Context, m InvitationEmail) (id string, err error) {
	defer func() { metrics.RecordEmail(err) }()

	if err := validation.Struct(m); err != nil {
		return "", err
	}
	html, err := m.Render()
	if err != nil {
		return "", fmt.Errorf("render invitation email: %w", err)
	}
	subject := m.Subject()

	in := &sesv2.SendEmailInput{
		FromEmailAddress: &s.from,
		Destination: &types.Destination{
			ToAddresses: []string{m.ClientEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &subject},
				Body:    &types.Body{Html: &types.Content{Data: &html}},
			},
		},
	}
	if m.FreelancerEmail != "" {
		in.ReplyToAddresses = []string{m.FreelancerEmail}
	}

	out, err := s.client.SendEmail(ctx, in)
	if err != nil {
		return "", apperr.Unavailable("send invitation email", err)
	}
	if out == nil || out.MessageId == nil {
		return "", apperr.Unavailable("send invitation email", errors.New("no message id returned"))
	}
	s.log.Info("invitation email sent",
		zap.String("to", m.ClientEmail),
		zap.String("message_id", *out.MessageId),
	)
	return *out.MessageId, nil
}

// LogSender writes invitations to the log instead of sending them.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) SendInvitation(ctx context.Context, m InvitationEmail) (string, error) {
	if err := validation.Struct(m); err != nil {
		return "", err
	}
	id := "log-" + uuid.NewString()
	s.Log.Info("invitation email (not sent)",
		zap.String("to", m.ClientEmail),
		zap.String("subject", m.Subject()),
		zap.String("link", m.InvitationLink),
		zap.String("message_id", id),
	)
	return id, nil
}

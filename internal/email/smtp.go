package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// =============================================================================
// SMTP Email Service Implementation
// =============================================================================

// SMTPEmailService sends emails via SMTP.
//
// This implementation works with:
// - Mailhog (development): No authentication required
// - Postmark SMTP (production): Uses username/password authentication
// - Any standard SMTP server
//
// Email templates are embedded in the binary and rendered with Go's
// html/template package.
type SMTPEmailService struct {
	config    SMTPConfig
	baseURL   string
	templates *template.Template
	logger    *slog.Logger
}

// NewSMTPEmailService creates a new SMTP-based email service.
//
// Parameters:
// - config: SMTP server configuration
// - baseURL: Application base URL for constructing links (e.g., "http://localhost:8080")
// - logger: Structured logger for error reporting
func NewSMTPEmailService(
	config SMTPConfig,
	baseURL string,
	logger *slog.Logger,
) (*SMTPEmailService, error) {
	// Set defaults
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	templates, err := template.New("email").Funcs(emailTemplateFuncs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	return &SMTPEmailService{
		config:    config,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		templates: templates,
		logger:    logger,
	}, nil
}

// =============================================================================
// EmailService Interface Implementation
// =============================================================================

// SendSeatInviteEmail invites someone to join an account as a seat member.
func (s *SMTPEmailService) SendSeatInviteEmail(ctx context.Context, to, inviterName, accountName, token string) error {
	inviteURL := fmt.Sprintf("%s/invites/accept?token=%s", s.baseURL, token)

	data := map[string]interface{}{
		"InviterName": inviterName,
		"AccountName": accountName,
		"InviteURL":   inviteURL,
		"Year":        time.Now().Year(),
	}

	htmlBody, err := s.renderTemplate("seat_invite.html", data)
	if err != nil {
		return fmt.Errorf("failed to render seat invite email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi,

%s has invited you to join %s on Docvault. Accept the invitation here:

%s

This invitation expires in 7 days.

If you weren't expecting this invitation, you can safely ignore this email.

Thanks,
The Docvault Team
`, inviterName, accountName, inviteURL)

	email := Email{
		To:       to,
		Subject:  fmt.Sprintf("%s invited you to join %s on Docvault", inviterName, accountName),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	return s.send(ctx, email)
}

// SendLinkInviteEmail invites the owner of another account to link it for
// pooled quotas.
func (s *SMTPEmailService) SendLinkInviteEmail(ctx context.Context, to, inviterName, token string) error {
	linkURL := fmt.Sprintf("%s/links/accept?token=%s", s.baseURL, token)

	data := map[string]interface{}{
		"InviterName": inviterName,
		"LinkURL":     linkURL,
		"Year":        time.Now().Year(),
	}

	htmlBody, err := s.renderTemplate("link_invite.html", data)
	if err != nil {
		return fmt.Errorf("failed to render link invite email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi,

%s wants to link your Docvault account to theirs so you can share their plan's upload and storage limits. Your documents stay yours.

Accept the link here:

%s

This invitation expires in 7 days.

If you weren't expecting this invitation, you can safely ignore this email.

Thanks,
The Docvault Team
`, inviterName, linkURL)

	email := Email{
		To:       to,
		Subject:  fmt.Sprintf("%s wants to link Docvault accounts with you", inviterName),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	return s.send(ctx, email)
}

// SendTrialEndingSoonEmail warns a user their trial expires in a few days.
func (s *SMTPEmailService) SendTrialEndingSoonEmail(ctx context.Context, to, name string, daysRemaining int) error {
	upgradeURL := fmt.Sprintf("%s/billing", s.baseURL)

	data := map[string]interface{}{
		"Name":          name,
		"DaysRemaining": daysRemaining,
		"UpgradeURL":    upgradeURL,
		"Year":          time.Now().Year(),
	}

	htmlBody, err := s.renderTemplate("trial_ending.html", data)
	if err != nil {
		return fmt.Errorf("failed to render trial ending email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

Your Docvault trial ends in %d day(s). Pick a plan to keep uploading documents without interruption:

%s

Thanks,
The Docvault Team
`, name, daysRemaining, upgradeURL)

	email := Email{
		To:       to,
		Subject:  fmt.Sprintf("Your Docvault trial ends in %d day(s)", daysRemaining),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	return s.send(ctx, email)
}

// SendGracePeriodEmail tells a user their trial ended and uploads are paused.
func (s *SMTPEmailService) SendGracePeriodEmail(ctx context.Context, to, name string, daysRemaining int) error {
	upgradeURL := fmt.Sprintf("%s/billing", s.baseURL)

	data := map[string]interface{}{
		"Name":          name,
		"DaysRemaining": daysRemaining,
		"UpgradeURL":    upgradeURL,
		"Year":          time.Now().Year(),
	}

	htmlBody, err := s.renderTemplate("grace_period.html", data)
	if err != nil {
		return fmt.Errorf("failed to render grace period email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

Your Docvault trial has ended and new uploads are paused. You have %d day(s) to pick a plan before your account becomes read-only. All your documents are safe and remain viewable.

%s

Thanks,
The Docvault Team
`, name, daysRemaining, upgradeURL)

	email := Email{
		To:       to,
		Subject:  "Your Docvault trial has ended",
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	return s.send(ctx, email)
}

// SendReadOnlyEmail tells a user their account has become read-only.
func (s *SMTPEmailService) SendReadOnlyEmail(ctx context.Context, to, name string) error {
	upgradeURL := fmt.Sprintf("%s/billing", s.baseURL)

	data := map[string]interface{}{
		"Name":       name,
		"UpgradeURL": upgradeURL,
		"Year":       time.Now().Year(),
	}

	htmlBody, err := s.renderTemplate("read_only.html", data)
	if err != nil {
		return fmt.Errorf("failed to render read-only email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

Your Docvault account is now read-only. You can still view and download everything you've stored, but new uploads are disabled until you pick a plan:

%s

Thanks,
The Docvault Team
`, name, upgradeURL)

	email := Email{
		To:       to,
		Subject:  "Your Docvault account is now read-only",
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	return s.send(ctx, email)
}

// =============================================================================
// Internal Methods
// =============================================================================

// send sends an email via SMTP.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	// Build the email message
	msg := s.buildMessage(email)

	// Create SMTP address
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	// Create auth if credentials are provided (not needed for Mailhog)
	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	// Send the email
	err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, msg)
	if err != nil {
		s.logger.Error("failed to send email",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		"to", email.To,
		"subject", email.Subject,
	)

	return nil
}

// buildMessage constructs the raw email message with headers.
func (s *SMTPEmailService) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	// From header with display name
	fromHeader := fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)

	// Write headers
	buf.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	// Create multipart message for HTML + text
	boundary := "===============DOCVAULT_BOUNDARY==============="
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	// Plain text part
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	// HTML part
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.HTMLBody)
	buf.WriteString("\r\n")

	// End boundary
	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes()
}

// renderTemplate renders an email template with the given data.
func (s *SMTPEmailService) renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// =============================================================================
// Template Functions
// =============================================================================

// emailTemplateFuncs returns template functions available in email templates.
func emailTemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"safeHTML": func(s string) template.HTML {
			return template.HTML(s)
		},
		"currentYear": func() int {
			return time.Now().Year()
		},
	}
}

// =============================================================================
// Compile-time interface check
// =============================================================================

var _ EmailService = (*SMTPEmailService)(nil)

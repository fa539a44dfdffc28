// Package email provides email sending functionality for the Docvault application.
//
// This package defines an EmailService interface with implementations for:
// - SMTP (for development with Mailhog and production with services like Postmark SMTP)
// - Future: Postmark API implementation for advanced features
package email

import (
	"context"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailService defines the interface for sending transactional emails.
//
// Implementations:
// - SMTPEmailService: Uses SMTP protocol (Mailhog for dev, Postmark SMTP for prod)
// - Future: PostmarkAPIService for API-based sending with delivery tracking
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendSeatInviteEmail invites someone to join an account as a seat member.
	// Parameters:
	// - to: Recipient email address
	// - inviterName: Name of the account owner extending the invite
	// - accountName: Display name of the account being joined
	// - token: Raw invite token to include in the link
	SendSeatInviteEmail(ctx context.Context, to, inviterName, accountName, token string) error

	// SendLinkInviteEmail invites the owner of another account to link it
	// under the sender's account for pooled quotas.
	// Parameters:
	// - to: Recipient email address
	// - inviterName: Name of the primary account owner
	// - token: Raw link token to include in the link
	SendLinkInviteEmail(ctx context.Context, to, inviterName, token string) error

	// SendTrialEndingSoonEmail warns a user their trial expires in a few days.
	// Parameters:
	// - to: Recipient email address
	// - name: Recipient's name for personalization
	// - daysRemaining: Whole days until the trial ends
	SendTrialEndingSoonEmail(ctx context.Context, to, name string, daysRemaining int) error

	// SendGracePeriodEmail tells a user their trial has ended and uploads are
	// paused, with the number of grace days left before read-only.
	SendGracePeriodEmail(ctx context.Context, to, name string, daysRemaining int) error

	// SendReadOnlyEmail tells a user their account has become read-only.
	// Their documents remain viewable and downloadable.
	SendReadOnlyEmail(ctx context.Context, to, name string) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email
	TextBody string // Plain text fallback content
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromEmail is the default sender email for transactional emails.
	DefaultFromEmail = "noreply@docvault.app"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Docvault"
)

package services

import (
	"context"
	"fmt"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/platform/sendgrid"
	"github.com/hivedesk/membership-backend/internal/types"
	"github.com/hivedesk/membership-backend/internal/utils"
)

// Notifier is the outbound notification collaborator. The ledgers treat every
// call as fallible and decide per call site whether a failure gates the state
// transition (pay links) or is logged and swallowed (post-payment mails).
type Notifier interface {
	SendPayLink(ctx context.Context, member *types.Member, description string, amountCents int64, payURL string) error
	SendExportFile(ctx context.Context, batch *types.ExportBatch, filename string, data []byte) error
}

type mailNotifier struct {
	log          *logger.Logger
	mail         sendgrid.Client
	partnerEmail string
	partnerName  string
}

func NewMailNotifier(log *logger.Logger, mail sendgrid.Client) Notifier {
	return &mailNotifier{
		log:          log.With("service", "MailNotifier"),
		mail:         mail,
		partnerEmail: utils.GetEnv("PARTNER_EXPORT_EMAIL", "", log),
		partnerName:  utils.GetEnv("PARTNER_EXPORT_NAME", "Insurance partner", log),
	}
}

func (n *mailNotifier) SendPayLink(ctx context.Context, member *types.Member, description string, amountCents int64, payURL string) error {
	if member == nil || member.Email == "" {
		return fmt.Errorf("member with email required")
	}
	amount := float64(amountCents) / 100
	_, err := n.mail.Send(ctx, sendgrid.SendEmailRequest{
		To:      []sendgrid.EmailAddress{{Email: member.Email, Name: member.FullName()}},
		Subject: fmt.Sprintf("Payment request: %s", description),
		Text: fmt.Sprintf("Hello %s,\n\n%s — amount due: %.2f EUR.\n\nPay here: %s\n",
			member.FirstName, description, amount, payURL),
	})
	if err != nil {
		return fmt.Errorf("send pay link: %w", err)
	}
	return nil
}

func (n *mailNotifier) SendExportFile(ctx context.Context, batch *types.ExportBatch, filename string, data []byte) error {
	if n.partnerEmail == "" {
		return fmt.Errorf("PARTNER_EXPORT_EMAIL not configured")
	}
	_, err := n.mail.Send(ctx, sendgrid.SendEmailRequest{
		To:      []sendgrid.EmailAddress{{Email: n.partnerEmail, Name: n.partnerName}},
		Subject: fmt.Sprintf("Membership export %s (%d items)", batch.BatchDate.Format("2006-01-02"), batch.ItemCount),
		Text: fmt.Sprintf("Please find attached the export of %d paid items for %d.\n",
			batch.ItemCount, batch.Year),
		Attachments: []sendgrid.Attachment{
			{Filename: filename, MIMEType: "text/csv", Content: data},
		},
	})
	if err != nil {
		return fmt.Errorf("send export file: %w", err)
	}
	return nil
}

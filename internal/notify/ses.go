package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// sesTemplate holds the subject line and body format for one template key.
type sesTemplate struct {
	subject string
	body    string
}

// sesTemplates renders positional data into plain-text email bodies.
var sesTemplates = map[string]sesTemplate{
	TemplatePlanConfirmation:     {"Your RelayText plan is active", "Your %s plan is now active with a quota of %s messages per month."},
	TemplateUpgradeNotice:        {"Your RelayText plan was upgraded", "Your plan changed from %s to %s. Enjoy the larger quota."},
	TemplatePaymentMethodUpdated: {"Payment method updated", "Your payment method on file was updated (ref %s)."},
	TemplatePaymentReminder:      {"Payment failed - action needed", "We could not charge your card for invoice %s. We will retry automatically."},
	TemplatePaymentUrgent:        {"Urgent: payment still failing", "A second charge attempt for invoice %s failed. Please update your payment method to avoid suspension."},
	TemplateAccountSuspended:     {"Your RelayText service is suspended", "Your account was suspended (%s). Update your payment method to restore service."},
	TemplateAccountReactivated:   {"Your RelayText service is restored", "Payment received. Your %s plan is active again."},
	TemplateUsageAlert:           {"You have used 80% of your quota", "You have used %s of your %s monthly messages."},
	TemplateAutoBuyReceipt:       {"Overage purchase receipt", "We added %s messages to your account for $%s."},
	TemplateQuotaBounce:          {"Message not delivered", "Your message could not be delivered: %s."},
}

// SESNotifier dispatches notifications as transactional email via Amazon
// SES. The client is constructed once, with explicit region configuration.
type SESNotifier struct {
	client *sesv2.Client
	sender string
}

// NewSESNotifier constructs an SESNotifier for the given region and sender.
func NewSESNotifier(ctx context.Context, region, sender string) (*SESNotifier, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return nil, fmt.Errorf("notify: missing ses sender")
	}
	cfg, errLoad := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(strings.TrimSpace(region)))
	if errLoad != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", errLoad)
	}
	return &SESNotifier{client: sesv2.NewFromConfig(cfg), sender: sender}, nil
}

// Send renders the template and dispatches one email.
func (n *SESNotifier) Send(ctx context.Context, recipient, template string, data ...string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("notify: missing recipient for template %s", template)
	}
	tpl, ok := sesTemplates[template]
	if !ok {
		return fmt.Errorf("notify: unknown template %s", template)
	}

	args := make([]any, 0, len(data))
	for _, d := range data {
		args = append(args, d)
	}
	body := fmt.Sprintf(tpl.body, args...)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.sender),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(tpl.subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	}
	if _, errSend := n.client.SendEmail(ctx, input); errSend != nil {
		return fmt.Errorf("notify: ses send %s: %w", template, errSend)
	}
	return nil
}

// Ensure SESNotifier implements Notifier.
var _ Notifier = (*SESNotifier)(nil)

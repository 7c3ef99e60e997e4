package ses

import (
	"context"
	"fmt"
	"html"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"smartmetal/internal/config"
	"smartmetal/internal/port"
)

// EmailAPI is the subset of the SES v2 client used by the notifier.
type EmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type sesNotifier struct {
	client      EmailAPI
	fromAddress string
	fromName    string
	toAddress   string
}

// NewSESNotifier creates a new SES-backed ReviewNotifier.
func NewSESNotifier(cfg *config.NotifyConfig) (port.ReviewNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for SES: %w", err)
	}
	return NewSESNotifierWithClient(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewSESNotifierWithClient creates a ReviewNotifier around an existing client.
func NewSESNotifierWithClient(client EmailAPI, cfg *config.NotifyConfig) port.ReviewNotifier {
	return &sesNotifier{
		client:      client,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		toAddress:   cfg.ToAddress,
	}
}

func (s *sesNotifier) NotifyReview(ctx context.Context, req port.ReviewRequest) error {
	subject := fmt.Sprintf("Line-item extraction needs review: %s", req.DocumentRef)
	textBody := buildReviewText(req)
	htmlBody := buildReviewHTML(req)

	from := fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress)

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: &from,
		Destination: &types.Destination{
			ToAddresses: []string{s.toAddress},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &subject},
				Body: &types.Body{
					Html: &types.Content{Data: &htmlBody},
					Text: &types.Content{Data: &textBody},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("SES SendEmail: %w", err)
	}
	return nil
}

func buildReviewText(req port.ReviewRequest) string {
	g := req.Gate
	return fmt.Sprintf("Document %s (run %s) failed the completeness check.\n\nReason: %s\nRows detected: %d\nItems extracted: %d\nCoverage: %.0f%%\nEstimated missing items: %d\n\nPlease review the document manually.",
		req.DocumentRef, req.RunID, g.Reason, g.Baseline, g.Actual, g.Coverage*100, g.MissingEstimate)
}

func buildReviewHTML(req port.ReviewRequest) string {
	g := req.Gate
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #333;">Extraction needs review</h2>
  <p>Document <strong>%s</strong> (run %s) failed the completeness check.</p>
  <table style="border-collapse: collapse;">
    <tr><td style="padding: 4px 12px 4px 0;">Reason</td><td>%s</td></tr>
    <tr><td style="padding: 4px 12px 4px 0;">Rows detected</td><td>%d</td></tr>
    <tr><td style="padding: 4px 12px 4px 0;">Items extracted</td><td>%d</td></tr>
    <tr><td style="padding: 4px 12px 4px 0;">Coverage</td><td>%.0f%%</td></tr>
    <tr><td style="padding: 4px 12px 4px 0;">Estimated missing</td><td>%d</td></tr>
  </table>
  <hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
  <p style="color: #999; font-size: 12px;">SmartMetal line-item extraction</p>
</body>
</html>`, html.EscapeString(req.DocumentRef), html.EscapeString(req.RunID), html.EscapeString(g.Reason),
		g.Baseline, g.Actual, g.Coverage*100, g.MissingEstimate)
}

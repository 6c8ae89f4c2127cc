package outreach

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/config"
	"github.com/sells-group/prospect-outreach/internal/resilience"
)

// SESAPI is the subset of the SES v2 client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends through AWS SES v2.
type SESProvider struct {
	client    SESAPI
	configSet string
}

// NewSESProvider builds an SES client from config. Static credentials are
// used when both keys are set; otherwise the default AWS chain applies.
func NewSESProvider(ctx context.Context, cfg config.SESConfig) (*SESProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "ses: load aws config")
	}
	return NewSESProviderWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// NewSESProviderWithClient wraps an existing client.
func NewSESProviderWithClient(client SESAPI, configSet string) *SESProvider {
	return &SESProvider{client: client, configSet: configSet}
}

// Name implements Provider.
func (p *SESProvider) Name() string { return "ses" }

// Send implements Provider.
func (p *SESProvider) Send(ctx context.Context, msg *Message) (string, error) {
	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = textToHTML(msg.Text)
	}

	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("email_id"), Value: aws.String(msg.EmailID)},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if p.configSet != "" {
		input.ConfigurationSetName = aws.String(p.configSet)
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return "", classifySESError(eris.Wrap(err, "ses: send email"), err)
	}
	if out.MessageId == nil {
		return "", eris.New("ses: response carried no message id")
	}
	return *out.MessageId, nil
}

var sesPermanentCodes = map[string]bool{
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
	"AccountSuspendedException":          true,
	"SendingPausedException":             true,
	"BadRequestException":                true,
	"NotFoundException":                  true,
}

var sesTransientCodes = map[string]bool{
	"TooManyRequestsException": true,
	"LimitExceededException":   true,
	"ThrottlingException":      true,
	"InternalFailure":          true,
	"ServiceUnavailable":       true,
}

func classifySESError(wrapped, cause error) error {
	var apiErr smithy.APIError
	if errors.As(cause, &apiErr) {
		switch {
		case sesPermanentCodes[apiErr.ErrorCode()]:
			return resilience.NewPermanentError(wrapped, 0)
		case sesTransientCodes[apiErr.ErrorCode()]:
			return resilience.NewTransientError(wrapped, 0)
		}
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(cause, &status) {
		return resilience.FromHTTPStatus(wrapped, status.HTTPStatusCode())
	}
	return wrapped
}

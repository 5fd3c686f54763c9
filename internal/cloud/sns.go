package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

// SNSClient publishes operator alerts.
type SNSClient struct {
	svc      *sns.Client
	topicArn string
}

// NewSNSClient creates a client for the given topic.
func NewSNSClient(cfg aws.Config, topicArn string, optFns ...func(*sns.Options)) *SNSClient {
	return &SNSClient{
		svc:      sns.NewFromConfig(cfg, optFns...),
		topicArn: topicArn,
	}
}

// SendAlert publishes a message to the topic.
func (c *SNSClient) SendAlert(ctx context.Context, subject, message string) error {
	result, err := c.svc.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	log.Debug().Str("message_id", aws.ToString(result.MessageId)).Msg("alert sent")
	return nil
}

// SendSubmissionAlert reports a reading the oracle did not accept.
func (c *SNSClient) SendSubmissionAlert(ctx context.Context, rec domain.SubmissionRecord) error {
	subject, message := SubmissionAlert(rec)
	return c.SendAlert(ctx, subject, message)
}

// SubmissionAlert formats the subject and body of a submission alert.
func SubmissionAlert(rec domain.SubmissionRecord) (string, string) {
	subject := fmt.Sprintf("Meter %s: reading %s", rec.MeterID, rec.Status)
	message := fmt.Sprintf(
		"Oracle Submission Alert\n\n"+
			"Meter: %s\n"+
			"Reading: %s kWh (%s, %s)\n"+
			"Observed: %s\n"+
			"Status: %s after %d attempt(s)\n"+
			"Error: %s\n",
		rec.MeterID,
		domain.FormatValue(rec.Value), rec.Kind, rec.Source,
		time.Unix(rec.ObservedAt, 0).UTC().Format(time.RFC3339),
		rec.Status, rec.Attempts,
		rec.Error,
	)
	return subject, message
}

package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// SNSAPI is the subset of *sns.Client used by SNSSink.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// maxSubjectLen is the SNS limit on email subjects.
const maxSubjectLen = 100

func newAWSSNS(ctx context.Context, region string) (SNSAPI, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

// SNSSink publishes events to an SNS topic.
type SNSSink struct {
	name     string
	topicARN string
	api      SNSAPI
}

// NewSNSSink creates an SNS sink.
func NewSNSSink(name, topicARN string, api SNSAPI) *SNSSink {
	return &SNSSink{name: name, topicARN: topicARN, api: api}
}

// Name implements Sink.
func (s *SNSSink) Name() string { return s.name }

// Send implements Sink. Severity and device are set as message attributes
// so subscriptions can filter on them.
func (s *SNSSink) Send(ctx context.Context, ev telemetry.AnomalyEvent) error {
	subject := fmt.Sprintf("ColdWatch %s: %s on %s", severityLabel(ev.Severity), ev.Type, ev.DeviceID)
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}
	message := fmt.Sprintf(
		"Compressor anomaly detected\n\n"+
			"Device: %s\n"+
			"Type: %s\n"+
			"Severity: %s\n"+
			"Confidence: %.2f\n"+
			"Time: %s\n\n"+
			"%s",
		ev.DeviceID, ev.Type, ev.Severity, ev.Confidence,
		ev.Timestamp.Format(time.RFC3339), ev.Description,
	)

	_, err := s.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity":  {DataType: aws.String("String"), StringValue: aws.String(string(ev.Severity))},
			"device_id": {DataType: aws.String("String"), StringValue: aws.String(ev.DeviceID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

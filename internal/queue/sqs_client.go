package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const defaultRegion = "us-east-1"

// sendAPI is the slice of the SQS client used for producing jobs.
type sendAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSClient sends analysis jobs to AWS SQS.
type SQSClient struct {
	client   sendAPI
	raw      *sqs.Client
	queueURL string
}

// NewSQSClient constructs an SQS-backed queue client. An empty region falls back to us-east-1.
func NewSQSClient(ctx context.Context, region, queueURL string) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required")
	}
	if strings.TrimSpace(region) == "" {
		region = defaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	raw := sqs.NewFromConfig(cfg)
	return &SQSClient{client: raw, raw: raw, queueURL: queueURL}, nil
}

// Raw exposes the SDK client for the worker's receive loop.
func (s *SQSClient) Raw() *sqs.Client { return s.raw }

func (s *SQSClient) QueueURL() string { return s.queueURL }

// Send delivers a message to the configured SQS queue. The analysis id is
// attached as a message attribute so it shows up in the console without
// decoding the body.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"analysisId": {DataType: aws.String("String"), StringValue: aws.String(msg.AnalysisID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

var _ Client = (*SQSClient)(nil)

package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/cockroachdb/errors"
)

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTexter sends SMS through AWS SNS direct publish.
type SNSTexter struct {
	client snsAPI
}

// NewSNSTexter loads credentials and region the standard AWS way.
func NewSNSTexter(ctx context.Context) (*SNSTexter, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &SNSTexter{client: sns.NewFromConfig(cfg)}, nil
}

func (s *SNSTexter) Send(ctx context.Context, phone, text string) error {
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(text),
	})
	if err != nil {
		return errors.Wrapf(err, "sns publish to %s", phone)
	}
	return nil
}

// internal/watcher/alerts.go
package watcher

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	commonaws "vendor-onboarding/internal/common/aws"
)

// SNSAlerter publishes operator alerts to an SNS topic. A permanently
// stopped watcher is the one condition urgent enough to page on.
type SNSAlerter struct {
	client   *commonaws.SNSClient
	topicARN string
}

func NewSNSAlerter(client *commonaws.SNSClient, topicARN string) *SNSAlerter {
	return &SNSAlerter{client: client, topicARN: topicARN}
}

func (a *SNSAlerter) Alert(ctx context.Context, subject, message string) error {
	_, err := a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	return err
}

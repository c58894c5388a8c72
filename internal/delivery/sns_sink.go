package delivery

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/pkg/logger"
)

// SNSPublisher sns.Client 中用到的部分
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewSNSClient 使用默认凭据链创建 SNS 客户端
func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(awsCfg), nil
}

// SNSSink 把通知发布到 SNS topic，由移动推送订阅方按 recipient_id 过滤
type SNSSink struct {
	client   SNSPublisher
	topicARN string
}

func NewSNSSink(client SNSPublisher, topicARN string) *SNSSink {
	return &SNSSink{client: client, topicARN: topicARN}
}

func (s *SNSSink) Deliver(ctx context.Context, batch []*model.Notification) {
	for _, n := range batch {
		payload, err := encode(n)
		if err != nil {
			logger.Warn("sns sink: encode notification", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		_, err = s.client.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(s.topicARN),
			Message:  aws.String(string(payload)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"recipient_id": {DataType: aws.String("String"), StringValue: aws.String(n.RecipientID)},
				"kind":         {DataType: aws.String("String"), StringValue: aws.String(n.Kind.String())},
			},
		})
		if err != nil {
			logger.Warn("sns sink: publish failed",
				zap.String("id", n.ID),
				zap.String("recipient_id", n.RecipientID),
				zap.Error(err))
		}
	}
}

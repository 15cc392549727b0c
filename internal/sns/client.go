// Package sns provides a shared SNS client factory for SMS delivery.
// Only this package imports the SNS SDK; adapters use the re-exported types.
package sns

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Config holds SNS connection parameters.
type Config struct {
	// Endpoint overrides the default AWS endpoint (LocalStack in development).
	Endpoint string
	Region   string
	Timeout  time.Duration
}

// Client wraps the AWS SNS SDK client.
type Client struct {
	API *sns.Client
}

// NewClient creates an SNS client configured from cfg.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts,
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("test", "test", ""),
			),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if cfg.Timeout > 0 {
		awsCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	var snsOpts []func(*sns.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		snsOpts = append(snsOpts, func(o *sns.Options) {
			o.BaseEndpoint = &endpoint
		})
	}

	return &Client{API: sns.NewFromConfig(awsCfg, snsOpts...)}, nil
}

// Type aliases re-exported so adapters don't import the SDK directly.
type (
	PublishInput          = sns.PublishInput
	PublishOutput         = sns.PublishOutput
	Options               = sns.Options
	MessageAttributeValue = types.MessageAttributeValue
)

// SMS message attribute names.
const (
	AttrSMSType  = "AWS.SNS.SMS.SMSType"
	AttrSenderID = "AWS.SNS.SMS.SenderID"
)

// StringAttribute builds a String-typed message attribute.
func StringAttribute(v string) MessageAttributeValue {
	dataType := "String"
	return MessageAttributeValue{DataType: &dataType, StringValue: &v}
}

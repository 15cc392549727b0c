// Package secrets provides Secrets Manager and SSM Parameter Store client
// factories. Only this package imports those SDKs.
package secrets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// Config holds connection parameters shared by both clients.
type Config struct {
	Endpoint string // LocalStack URL in development
	Region   string
	Timeout  time.Duration
}

// Clients bundles the two SDK clients.
type Clients struct {
	SecretsManager *secretsmanager.Client
	SSM            *ssm.Client
}

// NewClients creates Secrets Manager and SSM clients configured from cfg.
func NewClients(ctx context.Context, cfg Config) (*Clients, error) {
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

	var smOpts []func(*secretsmanager.Options)
	var ssmOpts []func(*ssm.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		smOpts = append(smOpts, func(o *secretsmanager.Options) { o.BaseEndpoint = &endpoint })
		ssmOpts = append(ssmOpts, func(o *ssm.Options) { o.BaseEndpoint = &endpoint })
	}

	return &Clients{
		SecretsManager: secretsmanager.NewFromConfig(awsCfg, smOpts...),
		SSM:            ssm.NewFromConfig(awsCfg, ssmOpts...),
	}, nil
}

// Type aliases re-exported so adapters don't import the SDKs directly.
type (
	GetSecretValueInput  = secretsmanager.GetSecretValueInput
	GetSecretValueOutput = secretsmanager.GetSecretValueOutput
	SecretsOptions       = secretsmanager.Options
	GetParameterInput    = ssm.GetParameterInput
	GetParameterOutput   = ssm.GetParameterOutput
	SSMOptions           = ssm.Options
	Parameter            = ssmtypes.Parameter
)

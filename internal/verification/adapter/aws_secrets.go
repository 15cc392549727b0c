package adapter

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/aelexs/verification-gateway/internal/auth"
	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/secrets"
)

// smClient is the narrow consumer-defined interface for Secrets Manager operations.
type smClient interface {
	GetSecretValue(ctx context.Context, params *secrets.GetSecretValueInput, optFns ...func(*secrets.SecretsOptions)) (*secrets.GetSecretValueOutput, error)
}

// ssmClient is the narrow consumer-defined interface for SSM Parameter Store operations.
type ssmClient interface {
	GetParameter(ctx context.Context, params *secrets.GetParameterInput, optFns ...func(*secrets.SSMOptions)) (*secrets.GetParameterOutput, error)
}

// SecretLoader reads production key material from AWS at startup. Nothing
// is cached or refreshed; a rotated secret takes effect on the next deploy.
type SecretLoader struct {
	sm  smClient
	ssm ssmClient
}

func NewSecretLoader(sm smClient, ssm ssmClient) *SecretLoader {
	return &SecretLoader{sm: sm, ssm: ssm}
}

// LoadPepper fetches the code MAC pepper stored under secretID.
func (l *SecretLoader) LoadPepper(ctx context.Context, secretID string) (domain.SecretString, error) {
	ctx, span := tracer.Start(ctx, "secrets.load_pepper")
	defer span.End()

	value, err := l.secretString(ctx, secretID)
	if err != nil {
		fail(span, err)
		return "", fmt.Errorf("load pepper: %w", err)
	}
	return domain.SecretString(value), nil
}

// LoadSigningKey resolves the active key ID from the SSM parameter
// keyIDParam, then fetches the PEM private key stored in Secrets Manager at
// secretPrefix + keyID. The service must not start without it.
func (l *SecretLoader) LoadSigningKey(ctx context.Context, keyIDParam, secretPrefix string) (*auth.StaticKeyStore, error) {
	ctx, span := tracer.Start(ctx, "secrets.load_signing_key")
	defer span.End()

	out, err := l.ssm.GetParameter(ctx, &secrets.GetParameterInput{
		Name:           aws.String(keyIDParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("load signing key: fetch key ID %q: %w", keyIDParam, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return nil, fmt.Errorf("load signing key: parameter %q has no value", keyIDParam)
	}
	keyID := *out.Parameter.Value

	pemKey, err := l.secretString(ctx, secretPrefix+keyID)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("load signing key %q: %w", keyID, err)
	}

	ks, err := auth.NewPEMKeyStore([]byte(pemKey), keyID)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("load signing key %q: %w", keyID, err)
	}
	return ks, nil
}

func (l *SecretLoader) secretString(ctx context.Context, secretID string) (string, error) {
	out, err := l.sm.GetSecretValue(ctx, &secrets.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("fetch secret %q: %w", secretID, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secret %q has no secret string", secretID)
	}
	return *out.SecretString, nil
}

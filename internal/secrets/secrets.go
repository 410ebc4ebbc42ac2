// Package secrets resolves model API keys stored in AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrEmptySecret is returned when a secret holds no usable key
var ErrEmptySecret = errors.New("secret has no API key")

// SecretsAPI is the subset of the Secrets Manager client in use
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver reads API keys from Secrets Manager
type Resolver struct {
	client SecretsAPI
}

// NewResolver wraps an existing client
func NewResolver(client SecretsAPI) *Resolver {
	return &Resolver{client: client}
}

// NewAWSResolver builds a client from the default AWS credential chain.
// region may be empty to use the environment's region.
func NewAWSResolver(ctx context.Context, region string) (*Resolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return NewResolver(secretsmanager.NewFromConfig(cfg)), nil
}

// APIKey returns the key stored under secretID. The secret string is
// either JSON with an "api_key" field or the bare key.
func (r *Resolver) APIKey(ctx context.Context, secretID string) (string, error) {
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", secretID, err)
	}

	raw := strings.TrimSpace(aws.ToString(out.SecretString))
	if raw == "" {
		return "", fmt.Errorf("%s: %w", secretID, ErrEmptySecret)
	}

	if strings.HasPrefix(raw, "{") {
		var payload struct {
			APIKey string `json:"api_key"`
		}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return "", fmt.Errorf("decode secret %s: %w", secretID, err)
		}
		if payload.APIKey == "" {
			return "", fmt.Errorf("%s: %w", secretID, ErrEmptySecret)
		}
		return payload.APIKey, nil
	}

	return raw, nil
}

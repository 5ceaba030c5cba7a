package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSSecretsProvider is a provider for AWS Secrets Manager. A key "name#field" reads the field of a json
// secret, the way database credentials are kept there, i.e. "prod/orders#password".
type AWSSecretsProvider struct {
	client  secretsmanagerClient
	timeout time.Duration
}

//go:generate moq -out mocks/secretsmanager.go -pkg mocks -skip-ensure -fmt goimports . secretsmanagerClient:SecretsManagerClient

type secretsmanagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewAWSSecretsProvider creates a new instance of AWSSecretsProvider. Without access key the default
// credentials chain is used.
func NewAWSSecretsProvider(accessKeyID, secretAccessKey, region string) (*AWSSecretsProvider, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating aws config: %w", err)
	}
	return &AWSSecretsProvider{client: secretsmanager.NewFromConfig(cfg), timeout: 30 * time.Second}, nil
}

// Get gets a secret from AWS Secrets Manager
func (p *AWSSecretsProvider) Get(key string) (string, error) {
	name, fieldName, hasField := strings.Cut(key, "#")
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	result, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		return "", fmt.Errorf("error reading aws secret for %q: %w", name, err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("aws secret %q is not a string", name)
	}
	if !hasField {
		return *result.SecretString, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(*result.SecretString), &fields); err != nil {
		return "", fmt.Errorf("aws secret %q is not a json object: %w", name, err)
	}
	v, ok := fields[fieldName]
	if !ok {
		return "", fmt.Errorf("no field %q in aws secret %q", fieldName, name)
	}
	return fmt.Sprintf("%v", v), nil
}

package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/dbx/pkg/secrets/mocks"
)

func TestAWSSecretsProvider_Get(t *testing.T) {
	a, err := NewAWSSecretsProvider("key", "secret", "region")
	require.NoError(t, err, "failed to create AWSSecretsProvider")

	secrets := map[string]string{
		"key1":        "test-secret",
		"prod/orders": `{"username": "app", "password": "s3cret", "port": 3306}`,
	}
	sm := &mocks.SecretsManagerClient{
		GetSecretValueFunc: func(ctx context.Context, params *secretsmanager.GetSecretValueInput,
			_ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			if _, ok := ctx.Deadline(); !ok {
				return nil, errors.New("no deadline")
			}
			if *params.SecretId == "binary" {
				return &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{1, 2}}, nil
			}
			if v, ok := secrets[*params.SecretId]; ok {
				return &secretsmanager.GetSecretValueOutput{SecretString: &v}, nil
			}
			return nil, errors.New("error 123")
		},
	}
	a.client = sm

	testCases := []struct {
		key     string
		want    string
		wantErr string
	}{
		{key: "key1", want: "test-secret"},
		{key: "prod/orders#password", want: "s3cret"},
		{key: "prod/orders#port", want: "3306"},
		{key: "prod/orders", want: secrets["prod/orders"]},
		{key: "key2", wantErr: "error reading aws secret for \"key2\": error 123"},
		{key: "prod/orders#host", wantErr: "no field \"host\" in aws secret \"prod/orders\""},
		{key: "key1#password", wantErr: "aws secret \"key1\" is not a json object"},
		{key: "binary", wantErr: "aws secret \"binary\" is not a string"},
	}

	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			v, err := a.Get(tc.key)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}
	require.Len(t, sm.GetSecretValueCalls(), len(testCases))
	assert.Equal(t, "prod/orders", *sm.GetSecretValueCalls()[1].Params.SecretId, "field is cut from the secret id")
}

func TestNewAWSSecretsProvider_DefaultChain(t *testing.T) {
	a, err := NewAWSSecretsProvider("", "", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, a.timeout)
}

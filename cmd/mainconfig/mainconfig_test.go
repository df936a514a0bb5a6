package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
)

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "sa-east-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "sa-east-1", awsCfg.Region)
	require.NotNil(t, awsCfg.EndpointResolverWithOptions)

	for _, svc := range []string{sqs.ServiceID, sesv2.ServiceID} {
		ep, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(svc, "sa-east-1")
		require.NoError(t, err, svc)
		assert.Equal(t, "http://localhost:4566", ep.URL)
	}
	_, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint("S3", "sa-east-1")
	assert.Error(t, err)
}

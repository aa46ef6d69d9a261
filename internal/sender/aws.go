package sender

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ProviderTimeout bounds a single SES or SNS call.
const ProviderTimeout = 10 * time.Second

// loadAWSConfig builds the SDK config for a channel transport. SDK retries
// are off: every retry controller attempt must be exactly one provider call.
func loadAWSConfig(ctx context.Context, region string, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRetryMaxAttempts(1),
		config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(ProviderTimeout)),
	}
	return config.LoadDefaultConfig(ctx, append(opts, optFns...)...)
}

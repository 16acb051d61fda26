package directory

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/directoryservice"
)

// API is the subset of the AWS Directory Service client the gateway calls.
// *directoryservice.Client satisfies it.
type API interface {
	CreateMicrosoftAD(context.Context, *directoryservice.CreateMicrosoftADInput, ...func(*directoryservice.Options)) (*directoryservice.CreateMicrosoftADOutput, error)
	DeleteDirectory(context.Context, *directoryservice.DeleteDirectoryInput, ...func(*directoryservice.Options)) (*directoryservice.DeleteDirectoryOutput, error)
	DescribeDirectories(context.Context, *directoryservice.DescribeDirectoriesInput, ...func(*directoryservice.Options)) (*directoryservice.DescribeDirectoriesOutput, error)
}

// ClientFactory returns a Directory Service client bound to region.
type ClientFactory interface {
	ForRegion(region string) API
}

// AWSClientFactory builds real clients from one shared aws.Config. Each call
// gets its own client; nothing is cached between requests.
type AWSClientFactory struct {
	cfg      aws.Config
	endpoint string
}

// NewAWSClientFactory loads the SDK default configuration (env, shared
// profile, instance role). endpointURL is optional and only used to point at
// an emulator.
func NewAWSClientFactory(ctx context.Context, defaultRegion, endpointURL string) (*AWSClientFactory, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if defaultRegion != "" {
		opts = append(opts, awsconfig.WithRegion(defaultRegion))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("directory: load aws config: %w", err)
	}
	return &AWSClientFactory{cfg: cfg, endpoint: endpointURL}, nil
}

// ForRegion returns a client for region. An empty region keeps the default
// region from the loaded configuration, if any.
func (f *AWSClientFactory) ForRegion(region string) API {
	return directoryservice.NewFromConfig(f.cfg, func(o *directoryservice.Options) {
		if region != "" {
			o.Region = region
		}
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
		}
	})
}

// StaticClientFactory hands out the same client for every region.
type StaticClientFactory struct {
	Client API
}

func (f StaticClientFactory) ForRegion(string) API { return f.Client }

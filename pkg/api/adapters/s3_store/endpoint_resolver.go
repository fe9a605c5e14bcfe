package s3_store

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
)

var _ s3.EndpointResolverV2 = (*EndpointResolver)(nil)

type EndpointResolver struct {
	endpointURL string
}

func NewEndpointResolver(endpointURL string) *EndpointResolver {
	return &EndpointResolver{endpointURL: endpointURL}
}

func (r *EndpointResolver) ResolveEndpoint(ctx context.Context, params s3.EndpointParameters) (smithyendpoints.Endpoint, error) {
	if r.endpointURL == "" {
		return s3.NewDefaultEndpointResolverV2().ResolveEndpoint(ctx, params)
	}

	parsedURL, err := url.Parse(r.endpointURL)
	if err != nil {
		return smithyendpoints.Endpoint{}, &aws.EndpointNotFoundError{Err: fmt.Errorf("failed to parse s3 endpoint url '%s': %w", r.endpointURL, err)}
	}

	// Path-style addressing puts the bucket in the path; the SDK only appends
	// the key, so the bucket has to be added here.
	if params.Bucket != nil && aws.ToBool(params.ForcePathStyle) {
		parsedURL = parsedURL.JoinPath(*params.Bucket)
	}

	return smithyendpoints.Endpoint{URI: *parsedURL}, nil
}

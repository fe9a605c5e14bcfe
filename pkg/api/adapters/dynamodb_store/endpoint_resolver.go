package dynamodb_store

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
)

var _ dynamodb.EndpointResolverV2 = (*EndpointResolver)(nil)

// EndpointResolver points the DynamoDb client at a fixed endpoint such as a
// localstack instance.
type EndpointResolver struct {
	endpointURL string
}

func NewEndpointResolver(endpointURL string) *EndpointResolver {
	return &EndpointResolver{endpointURL: endpointURL}
}

func (r *EndpointResolver) ResolveEndpoint(ctx context.Context, params dynamodb.EndpointParameters) (smithyendpoints.Endpoint, error) {
	if r.endpointURL == "" {
		return dynamodb.NewDefaultEndpointResolverV2().ResolveEndpoint(ctx, params)
	}

	parsedURL, err := url.Parse(r.endpointURL)
	if err != nil {
		return smithyendpoints.Endpoint{}, &aws.EndpointNotFoundError{Err: fmt.Errorf("failed to parse dynamodb endpoint url '%s': %w", r.endpointURL, err)}
	}

	return smithyendpoints.Endpoint{URI: *parsedURL}, nil
}

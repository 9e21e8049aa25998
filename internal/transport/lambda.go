package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/pkg/cache"
)

const defaultLambdaClientCacheSize = 64

// Invoker is the subset of the Lambda client the transport uses.
type Invoker interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// InvokerFactory builds a client for the region and client options of target.
type InvokerFactory func(ctx context.Context, target models.LambdaTarget) (Invoker, error)

// lambdaInput is the function input: the signed payload and the headers an HTTP receiver would get.
type lambdaInput struct {
	Payload json.RawMessage   `json:"payload"`
	Headers map[string]string `json:"headers"`
}

// LambdaTransport invokes serverless functions. Clients are built once per region and client
// options and reused.
type LambdaTransport struct {
	clients *cache.LoaderCache[models.LambdaTarget, Invoker]
	factory InvokerFactory
}

// NewLambdaTransport creates a Lambda transport. A nil factory uses NewLambdaClient.
func NewLambdaTransport(factory InvokerFactory) (*LambdaTransport, error) {
	if factory == nil {
		factory = NewLambdaClient
	}

	// Clients never go stale, so entries only leave by size eviction.
	clients, err := cache.NewLoaderCache[models.LambdaTarget, Invoker](defaultLambdaClientCacheSize, 0, clientKey)
	if err != nil {
		return nil, fmt.Errorf("create lambda client cache: %w", err)
	}

	return &LambdaTransport{clients: clients, factory: factory}, nil
}

// clientKey identifies a client by region and every client option. Credentials are hashed so
// the cache never holds them in its keys.
func clientKey(t models.LambdaTarget) string {
	o := t.ClientOptions

	h := sha256.New()
	for _, part := range []string{o.Endpoint, o.AccessKeyID, o.SecretAccessKey, o.SessionToken} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}

	return t.Region + "|" + hex.EncodeToString(h.Sum(nil))
}

// NewLambdaClient builds a Lambda client from the default AWS configuration chain, overridden
// by the webhook's region, static credentials and endpoint when set.
func NewLambdaClient(ctx context.Context, target models.LambdaTarget) (Invoker, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(target.Region)}

	co := target.ClientOptions
	if co.AccessKeyID != "" && co.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(co.AccessKeyID, co.SecretAccessKey, co.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return lambda.NewFromConfig(awsCfg, func(o *lambda.Options) {
		if co.Endpoint != "" {
			o.BaseEndpoint = aws.String(co.Endpoint)
		}
	}), nil
}

// Deliver implements Transport. Async targets use the Event invocation type, others
// RequestResponse; a function error counts as a failure.
func (t *LambdaTransport) Deliver(ctx context.Context, d Delivery) Outcome {
	started := time.Now()

	target, ok := d.Target.(models.LambdaTarget)
	if !ok {
		return failed(d.Target, 0, started, fmt.Errorf("lambda transport cannot deliver to %T", d.Target))
	}

	client, err := t.clients.Get(ctx, target, t.factory)
	if err != nil {
		return failed(target, 0, started, fmt.Errorf("lambda client: %w", err))
	}

	body, err := json.Marshal(lambdaInput{Payload: d.Payload, Headers: HeaderMap(d.Headers)})
	if err != nil {
		return failed(target, 0, started, fmt.Errorf("marshal lambda input: %w", err))
	}

	invocationType := lambdatypes.InvocationTypeRequestResponse
	if target.Async {
		invocationType = lambdatypes.InvocationTypeEvent
	}

	out, err := client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(target.Function),
		InvocationType: invocationType,
		Payload:        body,
	})
	if err != nil {
		return failed(target, 0, started, fmt.Errorf("invoke %s: %w", target.Function, err))
	}

	code := int(out.StatusCode)
	if out.FunctionError != nil {
		return failed(target, code, started, errors.New("function error: "+aws.ToString(out.FunctionError)))
	}

	return delivered(target, code, started)
}

var _ Transport = (*LambdaTransport)(nil)

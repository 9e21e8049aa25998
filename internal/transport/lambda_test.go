package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/webhooks/internal/models"
)

type fakeInvoker struct {
	mu     sync.Mutex
	inputs []*lambda.InvokeInput
	out    *lambda.InvokeOutput
	err    error
}

func (f *fakeInvoker) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inputs = append(f.inputs, in)

	if f.err != nil {
		return nil, f.err
	}

	return f.out, nil
}

func newFakeLambda(t *testing.T, inv *fakeInvoker) (*LambdaTransport, *int) {
	t.Helper()

	builds := 0
	tr, err := NewLambdaTransport(func(context.Context, models.LambdaTarget) (Invoker, error) {
		builds++

		return inv, nil
	})
	require.NoError(t, err)

	return tr, &builds
}

func TestLambdaTransport_Deliver(t *testing.T) {
	payload := []byte(`{"time_ms":1,"events":[{"name":"member_added","channel":"presence-x","user_id":"u1"}]}`)
	headers := BuildHeaders("key", "sig", "p1", nil)

	t.Run("sync invoke with payload and headers", func(t *testing.T) {
		inv := &fakeInvoker{out: &lambda.InvokeOutput{StatusCode: 200}}
		tr, _ := newFakeLambda(t, inv)

		out := tr.Deliver(context.Background(), Delivery{
			Target:  models.LambdaTarget{Function: "notify", Region: "eu-west-1"},
			Payload: payload,
			Headers: headers,
		})

		require.True(t, out.Delivered(), "err: %v", out.Err)
		require.Len(t, inv.inputs, 1)

		in := inv.inputs[0]
		assert.Equal(t, "notify", aws.ToString(in.FunctionName))
		assert.Equal(t, lambdatypes.InvocationTypeRequestResponse, in.InvocationType)

		var body struct {
			Payload json.RawMessage   `json:"payload"`
			Headers map[string]string `json:"headers"`
		}
		require.NoError(t, json.Unmarshal(in.Payload, &body))
		assert.JSONEq(t, string(payload), string(body.Payload))
		assert.Equal(t, "sig", body.Headers["X-Pusher-Signature"])
		assert.Equal(t, "key", body.Headers["X-Pusher-Key"])
	})

	t.Run("async uses Event invocation", func(t *testing.T) {
		inv := &fakeInvoker{out: &lambda.InvokeOutput{StatusCode: 202}}
		tr, _ := newFakeLambda(t, inv)

		out := tr.Deliver(context.Background(), Delivery{
			Target:  models.LambdaTarget{Function: "notify", Region: "us-east-1", Async: true},
			Payload: payload,
			Headers: headers,
		})

		require.True(t, out.Delivered())
		assert.Equal(t, lambdatypes.InvocationTypeEvent, inv.inputs[0].InvocationType)
		assert.Equal(t, 202, out.StatusCode)
	})

	t.Run("function error is a failure", func(t *testing.T) {
		inv := &fakeInvoker{out: &lambda.InvokeOutput{StatusCode: 200, FunctionError: aws.String("Unhandled")}}
		tr, _ := newFakeLambda(t, inv)

		out := tr.Deliver(context.Background(), Delivery{Target: models.LambdaTarget{Function: "f"}, Payload: payload})

		assert.Equal(t, StatusFailed, out.Status)
		require.ErrorContains(t, out.Err, "Unhandled")
	})

	t.Run("invoke error is a failure", func(t *testing.T) {
		inv := &fakeInvoker{err: errors.New("throttled")}
		tr, _ := newFakeLambda(t, inv)

		out := tr.Deliver(context.Background(), Delivery{Target: models.LambdaTarget{Function: "f"}, Payload: payload})

		assert.Equal(t, StatusFailed, out.Status)
		assert.Zero(t, out.StatusCode)
	})

	t.Run("clients are reused per region and options", func(t *testing.T) {
		inv := &fakeInvoker{out: &lambda.InvokeOutput{StatusCode: 200}}
		tr, builds := newFakeLambda(t, inv)

		ctx := context.Background()
		tr.Deliver(ctx, Delivery{Target: models.LambdaTarget{Function: "a", Region: "us-east-1"}, Payload: payload})
		tr.Deliver(ctx, Delivery{Target: models.LambdaTarget{Function: "b", Region: "us-east-1"}, Payload: payload})
		tr.Deliver(ctx, Delivery{Target: models.LambdaTarget{Function: "a", Region: "eu-west-1"}, Payload: payload})

		assert.Equal(t, 2, *builds)
	})

	t.Run("clients differ by secret access key", func(t *testing.T) {
		var secrets []string

		tr, err := NewLambdaTransport(func(_ context.Context, target models.LambdaTarget) (Invoker, error) {
			secrets = append(secrets, target.ClientOptions.SecretAccessKey)

			return &fakeInvoker{out: &lambda.InvokeOutput{StatusCode: 200}}, nil
		})
		require.NoError(t, err)

		withSecret := func(secret string) models.LambdaTarget {
			return models.LambdaTarget{
				Function: "fn",
				Region:   "us-east-1",
				ClientOptions: models.LambdaClientOptions{
					AccessKeyID:     "AKID",
					SecretAccessKey: secret,
				},
			}
		}

		ctx := context.Background()
		require.True(t, tr.Deliver(ctx, Delivery{Target: withSecret("secret-A"), Payload: payload}).Delivered())
		require.True(t, tr.Deliver(ctx, Delivery{Target: withSecret("secret-B"), Payload: payload}).Delivered())
		require.True(t, tr.Deliver(ctx, Delivery{Target: withSecret("secret-A"), Payload: payload}).Delivered())

		assert.Equal(t, []string{"secret-A", "secret-B"}, secrets)
	})
}

func TestClientKey(t *testing.T) {
	base := models.LambdaTarget{
		Region: "us-east-1",
		ClientOptions: models.LambdaClientOptions{
			Endpoint: "http://localhost:4566", AccessKeyID: "AKID", SecretAccessKey: "s1", SessionToken: "tok",
		},
	}

	rotated := base
	rotated.ClientOptions.SecretAccessKey = "s2"

	shifted := base
	shifted.ClientOptions.AccessKeyID = "AKIDs"
	shifted.ClientOptions.SecretAccessKey = "1"

	other := base
	other.Function = "different-function"

	assert.NotEqual(t, clientKey(base), clientKey(rotated))
	assert.NotEqual(t, clientKey(base), clientKey(shifted))
	assert.Equal(t, clientKey(base), clientKey(other), "function name does not select the client")
	assert.NotContains(t, clientKey(base), "s1")
}

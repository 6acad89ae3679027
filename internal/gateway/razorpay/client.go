package razorpay

import (
	"context"
	"fmt"
	"strings"

	rzp "github.com/razorpay/razorpay-go"

	"github.com/kirinyoku/joynous/internal/domain"
)

const DefaultBaseURL = "https://api.razorpay.com"

// codeBadRequest is the error code Razorpay uses for requests it refused.
const codeBadRequest = "BAD_REQUEST_ERROR"

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
}

// Client captures and looks up payments through the Razorpay SDK.
type Client struct {
	rzp *rzp.Client
}

func New(cfg Config) *Client {
	c := rzp.NewClient(cfg.KeyID, cfg.KeySecret)

	if cfg.BaseURL != "" && cfg.BaseURL != DefaultBaseURL {
		c.Payment.Request.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Client{rzp: c}
}

// APIError is an error answer from Razorpay.
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return "razorpay: " + e.Description
	}
	return fmt.Sprintf("razorpay: %s: %s", e.Code, e.Description)
}

// Is makes refused requests match domain.ErrPaymentDeclined. Server and
// gateway errors do not, since the capture may still have gone through.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrPaymentDeclined && e.Code == codeBadRequest
}

// Capture captures an authorized payment.
//
// Parameters:
//   - ctx: the call is abandoned when ctx is done.
//   - paymentID: Razorpay payment ID returned by the checkout widget.
//   - amountMinor: amount in paise, must equal the authorized amount.
//   - currency: ISO currency code.
//
// Returns:
//   - *domain.ProcessorPayment: the payment as reported after capture.
//   - error: *APIError for error answers, ctx.Err() when abandoned.
func (c *Client) Capture(ctx context.Context, paymentID string, amountMinor int64, currency string) (*domain.ProcessorPayment, error) {
	const op = "razorpay.Client.Capture"

	body, err := call(ctx, func() (map[string]interface{}, error) {
		return c.rzp.Payment.Capture(paymentID, int(amountMinor), map[string]interface{}{
			"currency": currency,
		}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return toPayment(body), nil
}

// Fetch reads the current state of a payment.
//
// Parameters:
//   - ctx: the call is abandoned when ctx is done.
//   - paymentID: Razorpay payment ID.
//
// Returns:
//   - *domain.ProcessorPayment: status and amount as Razorpay reports them.
//   - error: *APIError for error answers, ctx.Err() when abandoned.
func (c *Client) Fetch(ctx context.Context, paymentID string) (*domain.ProcessorPayment, error) {
	const op = "razorpay.Client.Fetch"

	body, err := call(ctx, func() (map[string]interface{}, error) {
		return c.rzp.Payment.Fetch(paymentID, nil, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return toPayment(body), nil
}

type result struct {
	body map[string]interface{}
	err  error
}

// call runs a blocking SDK request and gives up on it when ctx is done.
func call(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan result, 1)
	go func() {
		// a panic here would take the process down
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &APIError{Description: fmt.Sprint(r)}}
			}
		}()

		body, err := fn()
		if err != nil {
			err = apiError(body, err)
		}
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.body, r.err
	}
}

func apiError(body map[string]interface{}, err error) *APIError {
	out := &APIError{Description: err.Error()}

	e, ok := body["error"].(map[string]interface{})
	if !ok {
		return out
	}
	if code, ok := e["code"].(string); ok {
		out.Code = code
	}
	if desc, ok := e["description"].(string); ok && desc != "" {
		out.Description = desc
	}

	return out
}

func toPayment(body map[string]interface{}) *domain.ProcessorPayment {
	str := func(k string) string {
		v, _ := body[k].(string)
		return v
	}

	var amount int64
	switch v := body["amount"].(type) {
	case float64:
		amount = int64(v)
	case int64:
		amount = v
	case int:
		amount = int64(v)
	}

	return &domain.ProcessorPayment{
		ID:          str("id"),
		Status:      str("status"),
		AmountMinor: amount,
		Currency:    str("currency"),
		Description: str("error_description"),
	}
}

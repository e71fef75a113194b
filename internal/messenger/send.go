// ABOUTME: Messenger Send API client used to deliver replies and notifications
// ABOUTME: Paces calls with a token bucket and maps platform errors to delivery errors

package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/2389/ledgerbot/internal/delivery"
)

// SendOptions configures a Client.
type SendOptions struct {
	GraphAPIURL     string // e.g. https://graph.facebook.com/v2.6
	PageAccessToken string
	Timeout         time.Duration
	Rate            float64 // calls per second; <= 0 disables pacing
	Burst           int
	Logger          *slog.Logger
}

// Client calls the Send API. It implements delivery.Sender for bare PSIDs.
type Client struct {
	http    *resty.Client
	token   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ delivery.Sender = (*Client)(nil)

// NewClient creates a Send API client.
func NewClient(opts SendOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("component", "messenger_send")

	httpClient := resty.New().
		SetBaseURL(opts.GraphAPIURL).
		SetHeader("Content-Type", "application/json").
		SetLogger(restyLogger{logger})
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}

	return &Client{
		http:    httpClient,
		token:   opts.PageAccessToken,
		limiter: limiter,
		logger:  logger,
	}
}

// restyLogger routes resty's internal messages into slog.
type restyLogger struct {
	l *slog.Logger
}

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

type apiError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// Send delivers text to the page-scoped user id psid.
func (c *Client) Send(ctx context.Context, psid, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: waiting for send slot: %w", delivery.ErrDeliveryFailed, err)
	}

	var body sendRequest
	body.Recipient.ID = psid
	body.Message.Text = text

	var result sendResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", c.token).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/me/messages")
	if err != nil {
		return fmt.Errorf("%w: %w", delivery.ErrDeliveryFailed, err)
	}

	if resp.IsError() {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("%w: status %d: %s (code %d)", delivery.ErrDeliveryFailed,
				resp.StatusCode(), apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("%w: status %d", delivery.ErrDeliveryFailed, resp.StatusCode())
	}

	c.logger.Debug("message sent", "recipient", psid, "message_id", result.MessageID)
	return nil
}

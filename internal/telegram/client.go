package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// MaxMessageLength is the Bot API limit for one text message, in UTF-16 code units.
const MaxMessageLength = 4096

// APIError is a Bot API call that returned ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// IsForbidden reports whether err means the bot may not write to the chat,
// e.g. the user blocked the bot.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden
}

// retryPolicy says which failed responses of a method are safe to resend.
type retryPolicy int

const (
	// retryIdempotent resends on 429 and 5xx.
	retryIdempotent retryPolicy = iota
	// retryThrottled resends only on 429, which Telegram answers before delivering.
	retryThrottled
)

type retryPolicyKey struct{}

func shouldRetry(r *resty.Response, _ error) bool {
	if r == nil || r.Request == nil {
		return false
	}
	if r.StatusCode() == http.StatusTooManyRequests {
		return true
	}
	policy, _ := r.Request.Context().Value(retryPolicyKey{}).(retryPolicy)
	return policy == retryIdempotent && r.StatusCode() >= http.StatusInternalServerError
}

// Client calls the Telegram Bot HTTP API.
type Client struct {
	http   *resty.Client
	token  string
	logger *slog.Logger
}

// NewClient creates a Bot API client. timeout must exceed the long-poll timeout.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetRetryResetReaders(true).
		SetHeader("Accept", "application/json").
		AddRetryCondition(shouldRetry)

	return &Client{http: client, token: token, logger: logger}
}

func (c *Client) path(method string) string {
	return "/bot" + c.token + "/" + method
}

func call[T any](ctx context.Context, c *Client, method string, policy retryPolicy, req *resty.Request) (T, error) {
	var env apiResponse[T]
	var zero T

	resp, err := req.SetContext(context.WithValue(ctx, retryPolicyKey{}, policy)).
		SetResult(&env).
		SetError(&env).
		Post(c.path(method))
	if err != nil {
		// resty errors can carry the request URL, which contains the token.
		return zero, fmt.Errorf("telegram %s: %w", method, stripToken(err, c.token))
	}

	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode()
		}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return zero, apiErr
	}
	return env.Result, nil
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	u, err := call[User](ctx, c, "getMe", retryIdempotent, c.http.R())
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUpdates long-polls for updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	body := getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout.Seconds()),
		AllowedUpdates: []string{"message", "callback_query"},
	}
	return call[[]Update](ctx, c, "getUpdates", retryIdempotent, c.http.R().SetBody(body))
}

// SendMessage sends text to chatID. markup may be nil or one of the keyboard types.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) error {
	body := sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: markup}
	_, err := call[Message](ctx, c, "sendMessage", retryThrottled, c.http.R().SetBody(body))
	return err
}

// AnswerCallbackQuery acknowledges an inline button press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	body := answerCallbackRequest{CallbackQueryID: callbackID, Text: text}
	_, err := call[bool](ctx, c, "answerCallbackQuery", retryIdempotent, c.http.R().SetBody(body))
	return err
}

// SendDocument uploads data as a file named filename. Uploads are resent on 5xx
// too; the reader is rewound before every attempt.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	form := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if caption != "" {
		form["caption"] = caption
	}
	req := c.http.R().
		SetFormData(form).
		SetFileReader("document", filename, bytes.NewReader(data))
	_, err := call[Message](ctx, c, "sendDocument", retryIdempotent, req)
	return err
}

type tokenFreeError struct {
	msg   string
	cause error
}

func (e *tokenFreeError) Error() string { return e.msg }
func (e *tokenFreeError) Unwrap() error { return e.cause }

func stripToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &tokenFreeError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), cause: err}
}

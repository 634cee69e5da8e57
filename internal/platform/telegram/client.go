// Package telegram is a small REST client for the Telegram Bot API, covering
// the calls the bot needs: long polling, sending and editing messages, and
// answering button presses.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Client calls the Bot API for a single bot token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL. The
// HTTP timeout must exceed the long-poll timeout passed to GetUpdates.
func NewClient(baseURL, token string, httpTimeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpTimeout <= 0 {
		httpTimeout = 90 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

// GetMe returns the bot's own account. Used as a startup token check.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var u User
	if err := c.call(ctx, "getMe", nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUpdates long-polls for updates with id >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := getUpdatesParams{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage posts a message and returns it as stored by Telegram.
func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) (Message, error) {
	var m Message
	if err := c.call(ctx, "sendMessage", p, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// EditMessageText replaces the text (and optionally the keyboard) of a
// message the bot sent earlier.
func (c *Client) EditMessageText(ctx context.Context, p EditMessageTextParams) error {
	return c.call(ctx, "editMessageText", p, nil)
}

// EditMessageReplyMarkup replaces a message's keyboard. A nil markup
// removes it.
func (c *Client) EditMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *InlineKeyboardMarkup) error {
	p := editReplyMarkupParams{ChatID: chatID, MessageID: messageID, ReplyMarkup: markup}
	if markup == nil {
		p.ReplyMarkup = &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}}
	}
	return c.call(ctx, "editMessageReplyMarkup", p, nil)
}

// AnswerCallbackQuery acknowledges a button press, optionally showing text
// as a toast.
func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackParams{CallbackQueryID: queryID, Text: text}, nil)
}

// call posts params as JSON to the method endpoint and decodes the result
// into out when out is non-nil.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	var bodyReader io.Reader
	if params != nil {
		body, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("telegram: %s: marshal request: %w", method, err)
		}
		bodyReader = bytes.NewReader(body)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("telegram: %s: create request: %w", method, err)
	}
	if params != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL embeds the token; never let it reach the logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: %s: http request: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("telegram: %s: read response: %w", method, err)
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		snippet := raw
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &APIError{Method: method, Code: resp.StatusCode, Description: string(snippet)}
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram: %s: decode result: %w", method, err)
	}
	return nil
}

package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/creastat/console"
	"go.uber.org/zap"
)

// envelope is the {data, error} wrapper returned by most Edge Functions.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

// Invoke implements Functions.
func (c *Client) Invoke(ctx context.Context, name string, body any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if body == nil {
		body = map[string]any{}
	}

	raw, err := c.client.Functions.Invoke(name, body)
	functionCalls.WithLabelValues(name, result(err)).Inc()
	if err != nil {
		c.logger.Debug(ctx, "edge function failed", zap.String("function", name), zap.Error(err))
		return fmt.Errorf("%w: invoke %s: %v", console.ErrRemote, name, err)
	}

	if err := decodeResponse(name, []byte(raw), out); err != nil {
		c.logger.Debug(ctx, "edge function returned error", zap.String("function", name), zap.Error(err))
		return err
	}
	return nil
}

// decodeResponse unwraps the envelope when present and decodes the payload
// into out. Bodies that are not an envelope are decoded as-is.
func decodeResponse(name string, raw []byte, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	payload := raw
	if raw[0] == '{' {
		var env envelope
		if err := json.Unmarshal(raw, &env); err == nil {
			if msg := errorMessage(env.Error); msg != "" {
				return fmt.Errorf("%w: %s: %s", console.ErrRemote, name, msg)
			}
			if len(env.Data) > 0 {
				payload = env.Data
			}
		}
	}

	if out == nil || bytes.Equal(payload, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", console.ErrRemote, name, err)
	}
	return nil
}

// errorMessage extracts a message from an envelope error, which functions
// report either as a string or as {"message": "..."}.
func errorMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

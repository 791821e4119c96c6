// Package telegram is the chat transport: it sends outbound texts and photos
// through the Telegram Bot API and defines the inbound webhook update types.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Options configures the Telegram client.
type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// Client sends messages and photos to chats.
type Client struct {
	httpClient  *http.Client
	photoClient *http.Client
	baseURL     string
}

// NewClient constructs a Telegram Bot API client.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	client := opts.HTTPClient
	photoClient := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
		// Photo uploads carry megabytes and deserve a longer budget.
		photoClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		httpClient:  client,
		photoClient: photoClient,
		baseURL:     base + "/bot" + opts.Token,
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage delivers a text message to the chat. parseMode may be empty or
// "Markdown".
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.httpClient, req)
}

// SendPhoto delivers image bytes as a photo with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("photo", "image.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(photo); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendPhoto", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(c.photoClient, req)
}

func (c *Client) do(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return fmt.Errorf("telegram: http %d: decode response: %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram: http %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}

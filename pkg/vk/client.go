// Package vk implements the platform side of govorun: the authenticated
// RPC transport, the long-poll session state machine and the update
// extraction logic that turns raw long-poll records into messages.
package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/govorun/pkg/logger"
)

// APIError is a platform-level error response ({"error": {...}}).
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// UserProfile is the subset of users.get the bot cares about.
// Gender: 1 female, 2 male, 0 unspecified.
type UserProfile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Gender    int    `json:"sex"`
}

// Endpoint is a long-poll bootstrap result: the server to poll, the
// session key and the initial cursor.
type Endpoint struct {
	Server string `json:"server"`
	Key    string `json:"key"`
	Cursor Cursor `json:"ts"`
}

// Cursor is the opaque stream-position token. The platform delivers it
// as either a JSON string or a number depending on credential type, so
// it decodes tolerantly and is carried as a string everywhere else.
type Cursor string

func (c *Cursor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Cursor(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cursor is neither string nor number: %s", data)
	}
	*c = Cursor(n.String())
	return nil
}

// Transport is the request/response surface the rest of the bot consumes.
type Transport interface {
	SendMessage(ctx context.Context, recipientID int64, text string, attachment string) error
	UploadVoiceMessage(ctx context.Context, audio []byte, conversationID int64) (string, error)
	GetUsers(ctx context.Context, ids []int64) ([]UserProfile, error)
	GetLongPollServer(ctx context.Context, groupID int64) (Endpoint, error)
}

type ClientConfig struct {
	Token      string
	APIBase    string
	APIVersion string
	Timeout    time.Duration
}

// Client talks to the platform RPC API over HTTP.
type Client struct {
	token      string
	apiBase    string
	apiVersion string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		token:      cfg.Token,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// call performs one RPC method call and returns the raw "response"
// payload, surfacing {"error": ...} as *APIError.
func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.token)
	params.Set("v", c.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Error    *APIError       `json:"error"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, envelope.Error)
	}
	return envelope.Response, nil
}

// SendMessage delivers text (and an optional attachment reference) to a
// recipient. Each send carries a fresh random id for de-duplication.
func (c *Client) SendMessage(ctx context.Context, recipientID int64, text string, attachment string) error {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(recipientID, 10))
	params.Set("message", text)
	params.Set("random_id", strconv.FormatUint(uint64(uuid.New().ID()), 10))
	if attachment != "" {
		params.Set("attachment", attachment)
	}

	if _, err := c.call(ctx, "messages.send", params); err != nil {
		return err
	}
	logger.DebugCF("transport", "Message sent", map[string]any{"recipient": recipientID})
	return nil
}

// UploadVoiceMessage pushes audio bytes through the three-step document
// upload flow and returns the attachment reference for SendMessage.
func (c *Client) UploadVoiceMessage(ctx context.Context, audio []byte, conversationID int64) (string, error) {
	params := url.Values{}
	params.Set("type", "audio_message")
	params.Set("peer_id", strconv.FormatInt(conversationID, 10))

	raw, err := c.call(ctx, "docs.getMessagesUploadServer", params)
	if err != nil {
		return "", err
	}
	var uploadServer struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(raw, &uploadServer); err != nil {
		return "", fmt.Errorf("decoding upload server: %w", err)
	}

	fileToken, err := c.uploadFile(ctx, uploadServer.UploadURL, audio)
	if err != nil {
		return "", err
	}

	saveParams := url.Values{}
	saveParams.Set("file", fileToken)
	raw, err = c.call(ctx, "docs.save", saveParams)
	if err != nil {
		return "", err
	}
	var saved struct {
		AudioMessage struct {
			OwnerID int64 `json:"owner_id"`
			ID      int64 `json:"id"`
		} `json:"audio_message"`
	}
	if err := json.Unmarshal(raw, &saved); err != nil {
		return "", fmt.Errorf("decoding saved document: %w", err)
	}

	return fmt.Sprintf("doc%d_%d", saved.AudioMessage.OwnerID, saved.AudioMessage.ID), nil
}

func (c *Client) uploadFile(ctx context.Context, uploadURL string, audio []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", uuid.New().String()+".ogg")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading file: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}
	var result struct {
		File string `json:"file"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if result.File == "" {
		return "", fmt.Errorf("upload server returned no file token: %s", strings.TrimSpace(string(data)))
	}
	return result.File, nil
}

// GetUsers fetches profile info (including gender) for the given ids.
func (c *Client) GetUsers(ctx context.Context, ids []int64) ([]UserProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}
	params := url.Values{}
	params.Set("user_ids", strings.Join(strIDs, ","))
	params.Set("fields", "sex")

	raw, err := c.call(ctx, "users.get", params)
	if err != nil {
		return nil, err
	}
	var profiles []UserProfile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("decoding user profiles: %w", err)
	}
	return profiles, nil
}

// GetLongPollServer bootstraps a long-poll session. A non-zero groupID
// selects the group-credential method; otherwise the user-credential
// method is used.
func (c *Client) GetLongPollServer(ctx context.Context, groupID int64) (Endpoint, error) {
	method := "messages.getLongPollServer"
	params := url.Values{}
	if groupID != 0 {
		method = "groups.getLongPollServer"
		params.Set("group_id", strconv.FormatInt(groupID, 10))
	}

	raw, err := c.call(ctx, method, params)
	if err != nil {
		return Endpoint{}, err
	}
	var ep Endpoint
	if err := json.Unmarshal(raw, &ep); err != nil {
		return Endpoint{}, fmt.Errorf("decoding long-poll endpoint: %w", err)
	}
	if ep.Server == "" || ep.Key == "" {
		return Endpoint{}, fmt.Errorf("incomplete long-poll endpoint: %s", raw)
	}

	logger.InfoCF("transport", "Long-poll server acquired", map[string]any{"server": ep.Server})
	return ep, nil
}

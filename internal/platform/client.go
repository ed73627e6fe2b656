// Package platform implements chat.Platform against the Telegram Bot API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/robusthttp"
	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

const (
	defaultBaseURL     = "https://api.telegram.org"
	maxResponseBytes   = 4 << 20
	callTimeout        = 30 * time.Second
	maxCallbackTextLen = 200
)

var (
	errMissingToken = errors.New("platform: bot token is required")
	// ErrInvalidIdentifier indicates an identifier the Bot API cannot address numerically.
	ErrInvalidIdentifier = errors.New("platform: identifier is not numeric")
)

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// Config describes the Bot API client.
type Config struct {
	Token   string
	BaseURL string
	// Client performs JSON calls; nil builds a retrying client.
	Client *http.Client
	// UploadClient performs multipart uploads; nil builds a pooled client without retries.
	UploadClient *http.Client
	Logger       *zap.Logger
}

// Client is a concurrency-safe Bot API client.
type Client struct {
	endpoint     string
	client       *http.Client
	uploadClient *http.Client
	logger       *zap.Logger
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errMissingToken
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = robusthttp.NewClient(logger, callTimeout)
	}
	uploadClient := cfg.UploadClient
	if uploadClient == nil {
		uploadClient = cleanhttp.DefaultPooledClient()
	}
	return &Client{
		endpoint:     fmt.Sprintf("%s/bot%s/", baseURL, token),
		client:       client,
		uploadClient: uploadClient,
		logger:       logger,
	}, nil
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

type chatMember struct {
	Status string `json:"status"`
}

type replyParameters struct {
	MessageID                int64 `json:"message_id"`
	AllowSendingWithoutReply bool  `json:"allow_sending_without_reply"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// sendPermissions covers only what a mute takes away and an unmute gives back.
type sendPermissions struct {
	CanSendMessages   bool `json:"can_send_messages"`
	CanSendAudios     bool `json:"can_send_audios"`
	CanSendDocuments  bool `json:"can_send_documents"`
	CanSendPhotos     bool `json:"can_send_photos"`
	CanSendVideos     bool `json:"can_send_videos"`
	CanSendVideoNotes bool `json:"can_send_video_notes"`
	CanSendVoiceNotes bool `json:"can_send_voice_notes"`
}

func sendingAllowed(allowed bool) sendPermissions {
	return sendPermissions{
		CanSendMessages:   allowed,
		CanSendAudios:     allowed,
		CanSendDocuments:  allowed,
		CanSendPhotos:     allowed,
		CanSendVideos:     allowed,
		CanSendVideoNotes: allowed,
		CanSendVoiceNotes: allowed,
	}
}

func (c *Client) SendText(ctx context.Context, conversation chat.ConversationID, replyTo chat.MessageID, text string) (chat.MessageID, error) {
	params := map[string]any{"chat_id": conversation.String(), "text": text}
	if err := addReply(params, replyTo); err != nil {
		return "", err
	}
	return c.sendMessage(ctx, "sendMessage", params)
}

func (c *Client) SendChoices(ctx context.Context, conversation chat.ConversationID, replyTo chat.MessageID, text string, choices []chat.Choice) (chat.MessageID, error) {
	keyboard := inlineKeyboard{InlineKeyboard: make([][]inlineButton, 0, len(choices))}
	for _, choice := range choices {
		keyboard.InlineKeyboard = append(keyboard.InlineKeyboard, []inlineButton{{Text: choice.Label, CallbackData: choice.Payload}})
	}
	params := map[string]any{"chat_id": conversation.String(), "text": text, "reply_markup": keyboard}
	if err := addReply(params, replyTo); err != nil {
		return "", err
	}
	return c.sendMessage(ctx, "sendMessage", params)
}

func (c *Client) EditText(ctx context.Context, conversation chat.ConversationID, message chat.MessageID, text string) error {
	messageID, err := numeric(message.String())
	if err != nil {
		return err
	}
	return c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    conversation.String(),
		"message_id": messageID,
		"text":       text,
	}, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, conversation chat.ConversationID, message chat.MessageID) error {
	messageID, err := numeric(message.String())
	if err != nil {
		return err
	}
	return c.call(ctx, "deleteMessage", map[string]any{"chat_id": conversation.String(), "message_id": messageID}, nil)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if len([]rune(text)) > maxCallbackTextLen {
		text = string([]rune(text)[:maxCallbackTextLen])
	}
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
		params["show_alert"] = false
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

func (c *Client) Restrict(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID, until time.Time) error {
	userID, err := numeric(actor.String())
	if err != nil {
		return err
	}
	return c.call(ctx, "restrictChatMember", map[string]any{
		"chat_id":                          conversation.String(),
		"user_id":                          userID,
		"permissions":                      sendingAllowed(false),
		"use_independent_chat_permissions": true,
		"until_date":                       until.Unix(),
	}, nil)
}

func (c *Client) Unrestrict(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) error {
	userID, err := numeric(actor.String())
	if err != nil {
		return err
	}
	return c.call(ctx, "restrictChatMember", map[string]any{
		"chat_id":                          conversation.String(),
		"user_id":                          userID,
		"permissions":                      sendingAllowed(true),
		"use_independent_chat_permissions": true,
	}, nil)
}

func (c *Client) Ban(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) error {
	userID, err := numeric(actor.String())
	if err != nil {
		return err
	}
	return c.call(ctx, "banChatMember", map[string]any{"chat_id": conversation.String(), "user_id": userID}, nil)
}

func (c *Client) Unban(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) error {
	userID, err := numeric(actor.String())
	if err != nil {
		return err
	}
	return c.call(ctx, "unbanChatMember", map[string]any{
		"chat_id":        conversation.String(),
		"user_id":        userID,
		"only_if_banned": true,
	}, nil)
}

func (c *Client) MemberStatus(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) (chat.MemberStatus, error) {
	userID, err := numeric(actor.String())
	if err != nil {
		return "", err
	}
	var member chatMember
	if err := c.call(ctx, "getChatMember", map[string]any{"chat_id": conversation.String(), "user_id": userID}, &member); err != nil {
		return "", err
	}
	return chat.MemberStatus(member.Status), nil
}

// UploadMedia streams the file as multipart form data without buffering it.
func (c *Client) UploadMedia(ctx context.Context, conversation chat.ConversationID, kind chat.MediaKind, path string) error {
	method, field := uploadMethod(kind)
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, writer := io.Pipe()
	defer reader.Close()
	form := multipart.NewWriter(writer)
	go func() {
		writer.CloseWithError(writeUpload(form, conversation, field, filepath.Base(path), file))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+method, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s: %w", method, err)
	}
	defer resp.Body.Close()
	return c.decode(method, resp, nil)
}

func writeUpload(form *multipart.Writer, conversation chat.ConversationID, field, name string, file io.Reader) error {
	if err := form.WriteField("chat_id", conversation.String()); err != nil {
		return err
	}
	part, err := form.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return form.Close()
}

func uploadMethod(kind chat.MediaKind) (string, string) {
	switch kind {
	case chat.MediaVideo:
		return "sendVideo", "video"
	case chat.MediaAudio:
		return "sendAudio", "audio"
	default:
		return "sendDocument", "document"
	}
}

func (c *Client) sendMessage(ctx context.Context, method string, params map[string]any) (chat.MessageID, error) {
	var sent sentMessage
	if err := c.call(ctx, method, params, &sent); err != nil {
		return "", err
	}
	return chat.MessageID(strconv.FormatInt(sent.MessageID, 10)), nil
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("platform: encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s: %w", method, err)
	}
	defer resp.Body.Close()
	return c.decode(method, resp, result)
}

func (c *Client) decode(method string, resp *http.Response, result any) error {
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return fmt.Errorf("platform: decode %s (status %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		c.logger.Debug("bot api call rejected",
			zap.String("method", method),
			zap.Int("code", env.ErrorCode),
			zap.String("description", env.Description))
		return apiErr
	}
	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("platform: decode %s result: %w", method, err)
	}
	return nil
}

func addReply(params map[string]any, replyTo chat.MessageID) error {
	if replyTo == "" {
		return nil
	}
	messageID, err := numeric(replyTo.String())
	if err != nil {
		return err
	}
	params["reply_parameters"] = replyParameters{MessageID: messageID, AllowSendingWithoutReply: true}
	return nil
}

func numeric(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return value, nil
}

var _ chat.Platform = (*Client)(nil)

package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
)

type recordedCall struct {
	method string
	params map[string]any
	fields map[string]string
	file   string
	field  string
}

type fakeBotAPI struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses map[string]string
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *httptest.Server) {
	t.Helper()
	api := &fakeBotAPI{responses: map[string]string{}}
	server := httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(server.Close)
	return api, server
}

func (a *fakeBotAPI) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/bottest-token/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, "/bottest-token/")
	call := recordedCall{method: method}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		reader, err := r.MultipartReader()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		call.fields = map[string]string{}
		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			content, _ := io.ReadAll(part)
			if part.FileName() != "" {
				call.field = part.FormName()
				call.file = string(content)
				continue
			}
			call.fields[part.FormName()] = string(content)
		}
	} else {
		_ = json.NewDecoder(r.Body).Decode(&call.params)
	}

	a.mu.Lock()
	a.calls = append(a.calls, call)
	response, ok := a.responses[method]
	a.mu.Unlock()
	if !ok {
		response = `{"ok":true,"result":true}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(response))
}

func (a *fakeBotAPI) respond(method, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[method] = body
}

func (a *fakeBotAPI) last() recordedCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{Token: "test-token", BaseURL: server.URL + "/", Client: server.Client(), UploadClient: server.Client()})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestSendTextRepliesAndReturnsMessageID(t *testing.T) {
	api, server := newFakeBotAPI(t)
	api.respond("sendMessage", `{"ok":true,"result":{"message_id":42}}`)
	client := newTestClient(t, server)

	id, err := client.SendText(context.Background(), "-1001", "17", "hello")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if id != "42" {
		t.Fatalf("expected message id 42, got %s", id)
	}
	call := api.last()
	if call.method != "sendMessage" || call.params["chat_id"] != "-1001" || call.params["text"] != "hello" {
		t.Fatalf("unexpected call %#v", call)
	}
	reply, ok := call.params["reply_parameters"].(map[string]any)
	if !ok || reply["message_id"] != float64(17) {
		t.Fatalf("expected reply parameters, got %#v", call.params["reply_parameters"])
	}
}

func TestSendChoicesBuildsInlineKeyboard(t *testing.T) {
	api, server := newFakeBotAPI(t)
	api.respond("sendMessage", `{"ok":true,"result":{"message_id":7}}`)
	client := newTestClient(t, server)

	_, err := client.SendChoices(context.Background(), "-1001", "", "pick", []chat.Choice{
		{Label: "A", Payload: "dl|1|video"},
		{Label: "B", Payload: "dl|1|audio"},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	call := api.last()
	if _, ok := call.params["reply_parameters"]; ok {
		t.Fatalf("expected no reply parameters without a reply target")
	}
	markup := call.params["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	if len(rows) != 2 {
		t.Fatalf("expected one row per choice, got %d", len(rows))
	}
	first := rows[0].([]any)[0].(map[string]any)
	if first["text"] != "A" || first["callback_data"] != "dl|1|video" {
		t.Fatalf("unexpected button %#v", first)
	}
}

func TestRestrictSendsExpiryAndDeniedPermissions(t *testing.T) {
	api, server := newFakeBotAPI(t)
	client := newTestClient(t, server)
	until := time.Unix(1700000600, 0)

	if err := client.Restrict(context.Background(), "-1001", "555", until); err != nil {
		t.Fatalf("restrict failed: %v", err)
	}
	call := api.last()
	if call.method != "restrictChatMember" || call.params["until_date"] != float64(until.Unix()) || call.params["user_id"] != float64(555) {
		t.Fatalf("unexpected call %#v", call)
	}
	if call.params["permissions"].(map[string]any)["can_send_messages"] != false {
		t.Fatalf("expected sending to be denied")
	}

	assertOnlySendPermissions(t, call.params)

	if err := client.Unrestrict(context.Background(), "-1001", "555"); err != nil {
		t.Fatalf("unrestrict failed: %v", err)
	}
	lifted := api.last()
	permissions := lifted.params["permissions"].(map[string]any)
	if permissions["can_send_messages"] != true || permissions["can_send_videos"] != true {
		t.Fatalf("expected sending to be allowed again, got %#v", permissions)
	}
	if _, ok := lifted.params["until_date"]; ok {
		t.Fatalf("expected no expiry when lifting a restriction")
	}
	assertOnlySendPermissions(t, lifted.params)
}

// assertOnlySendPermissions checks that a restriction call never touches
// permissions outside the send set.
func assertOnlySendPermissions(t *testing.T, params map[string]any) {
	t.Helper()
	permissions := params["permissions"].(map[string]any)
	for _, key := range []string{"can_send_polls", "can_send_other_messages", "can_add_web_page_previews", "can_change_info", "can_invite_users", "can_pin_messages"} {
		if _, ok := permissions[key]; ok {
			t.Fatalf("expected %s to be left untouched, got %#v", key, permissions)
		}
	}
	if params["use_independent_chat_permissions"] != true {
		t.Fatalf("expected independent permissions flag, got %#v", params)
	}
}

func TestUnbanOnlyIfBanned(t *testing.T) {
	api, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	if err := client.Unban(context.Background(), "-1001", "555"); err != nil {
		t.Fatalf("unban failed: %v", err)
	}
	if call := api.last(); call.method != "unbanChatMember" || call.params["only_if_banned"] != true {
		t.Fatalf("unexpected call %#v", call)
	}
}

func TestMemberStatusAndAPIErrors(t *testing.T) {
	api, server := newFakeBotAPI(t)
	api.respond("getChatMember", `{"ok":true,"result":{"status":"administrator","user":{"id":555}}}`)
	api.respond("banChatMember", `{"ok":false,"error_code":400,"description":"Bad Request: not enough rights"}`)
	client := newTestClient(t, server)

	status, err := client.MemberStatus(context.Background(), "-1001", "555")
	if err != nil || !status.IsAdministrator() {
		t.Fatalf("expected administrator status, got %s %v", status, err)
	}

	err = client.Ban(context.Background(), "-1001", "555")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 400 || apiErr.Method != "banChatMember" {
		t.Fatalf("expected an API error, got %v", err)
	}
}

func TestNonNumericIdentifiersAreRejected(t *testing.T) {
	_, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	if err := client.Ban(context.Background(), "-1001", "alice"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected invalid identifier, got %v", err)
	}
	if err := client.DeleteMessage(context.Background(), "-1001", "m-1"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected invalid identifier, got %v", err)
	}
}

func TestUploadMediaStreamsMultipart(t *testing.T) {
	api, server := newFakeBotAPI(t)
	client := newTestClient(t, server)
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	cases := map[chat.MediaKind][2]string{
		chat.MediaVideo:    {"sendVideo", "video"},
		chat.MediaAudio:    {"sendAudio", "audio"},
		chat.MediaDocument: {"sendDocument", "document"},
	}
	for kind, expected := range cases {
		if err := client.UploadMedia(context.Background(), "-1001", kind, path); err != nil {
			t.Fatalf("upload %s failed: %v", kind, err)
		}
		call := api.last()
		if call.method != expected[0] || call.field != expected[1] || call.file != "video-bytes" || call.fields["chat_id"] != "-1001" {
			t.Fatalf("unexpected upload call for %s: %#v", kind, call)
		}
	}
}

func TestUploadRejectionSurfaces(t *testing.T) {
	api, server := newFakeBotAPI(t)
	api.respond("sendVideo", `{"ok":false,"error_code":413,"description":"Request Entity Too Large"}`)
	client := newTestClient(t, server)
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	var apiErr *APIError
	if err := client.UploadMedia(context.Background(), "-1001", chat.MediaVideo, path); !errors.As(err, &apiErr) {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing token to be rejected")
	}
}

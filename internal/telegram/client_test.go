package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123:secret"

type recordedCall struct {
	method      string
	contentType string
	body        []byte
}

type fakeBotAPI struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses map[string]string
	status    map[string]int
	// queued statuses are answered first, one per call, before status applies.
	queued map[string][]int
}

func newFakeBotAPI() *fakeBotAPI {
	return &fakeBotAPI{responses: map[string]string{}, status: map[string]int{}, queued: map[string][]int{}}
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{method: method, contentType: r.Header.Get("Content-Type"), body: body})
	resp, ok := f.responses[method]
	status := f.status[method]
	if q := f.queued[method]; len(q) > 0 {
		status, f.queued[method] = q[0], q[1:]
		resp, ok = fmt.Sprintf(`{"ok":false,"error_code":%d,"description":"upstream"}`, status), true
	}
	f.mu.Unlock()

	if !ok {
		resp = `{"ok":true,"result":true}`
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func (f *fakeBotAPI) callsTo(method string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBotAPI) lastCall(t *testing.T) recordedCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newTestClient(t *testing.T, api *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, testToken, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.http.SetRetryCount(0)
	return c
}

func withFastRetries(c *Client) *Client {
	c.http.SetRetryCount(2).SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	return c
}

func documentBody(t *testing.T, call recordedCall) (fields map[string]string, fileName, fileBody string) {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(call.contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(strings.NewReader(string(call.body)), params["boundary"])
	fields = map[string]string{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, _ := io.ReadAll(part)
		if part.FormName() == "document" {
			fileName, fileBody = part.FileName(), string(data)
			continue
		}
		fields[part.FormName()] = string(data)
	}
	return fields, fileName, fileBody
}

func TestClient_SendMessage(t *testing.T) {
	api := newFakeBotAPI()
	api.responses["sendMessage"] = `{"ok":true,"result":{"message_id":1,"chat":{"id":42,"type":"private"}}}`
	c := newTestClient(t, api)

	markup := ReplyKeyboardMarkup{
		Keyboard:       [][]KeyboardButton{{{Text: "👤 Мои данные"}}},
		ResizeKeyboard: true,
	}
	require.NoError(t, c.SendMessage(context.Background(), 42, "привет", markup))

	call := api.lastCall(t)
	assert.Equal(t, "sendMessage", call.method)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(call.body, &got))
	assert.Equal(t, float64(42), got["chat_id"])
	assert.Equal(t, "привет", got["text"])
	kb := got["reply_markup"].(map[string]interface{})
	assert.Equal(t, true, kb["resize_keyboard"])
}

func TestClient_SendMessageWithoutMarkup(t *testing.T) {
	api := newFakeBotAPI()
	api.responses["sendMessage"] = `{"ok":true,"result":{"message_id":1,"chat":{"id":42,"type":"private"}}}`
	c := newTestClient(t, api)

	require.NoError(t, c.SendMessage(context.Background(), 42, "текст", nil))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(api.lastCall(t).body, &got))
	_, hasMarkup := got["reply_markup"]
	assert.False(t, hasMarkup)
}

func TestClient_APIError(t *testing.T) {
	api := newFakeBotAPI()
	api.status["sendMessage"] = http.StatusForbidden
	api.responses["sendMessage"] = `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	c := newTestClient(t, api)

	err := c.SendMessage(context.Background(), 42, "привет", nil)
	require.Error(t, err)
	assert.True(t, IsForbidden(err))
	assert.Contains(t, err.Error(), "blocked")
	assert.NotContains(t, err.Error(), testToken)
}

func TestClient_RetryAfter(t *testing.T) {
	api := newFakeBotAPI()
	api.status["sendMessage"] = http.StatusTooManyRequests
	api.responses["sendMessage"] = `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`
	c := newTestClient(t, api)

	err := c.SendMessage(context.Background(), 42, "привет", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 7, apiErr.RetryAfter)
	assert.False(t, IsForbidden(err))
}

func TestClient_GetUpdates(t *testing.T) {
	api := newFakeBotAPI()
	api.responses["getUpdates"] = `{"ok":true,"result":[
		{"update_id":10,"message":{"message_id":1,"from":{"id":42,"is_bot":false,"first_name":"Иван"},"chat":{"id":42,"type":"private"},"date":1717236000,"text":"/start"}},
		{"update_id":11,"callback_query":{"id":"cb1","from":{"id":7,"is_bot":false,"first_name":"Админ"},"data":"blacklist_add"}}
	]}`
	c := newTestClient(t, api)

	updates, err := c.GetUpdates(context.Background(), 10, 25*time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, "message", updates[0].Kind())
	assert.Equal(t, int64(42), updates[0].SenderID())
	assert.Equal(t, "/start", updates[0].Message.Text)

	assert.Equal(t, "callback_query", updates[1].Kind())
	assert.Equal(t, int64(7), updates[1].SenderID())
	assert.Equal(t, "blacklist_add", updates[1].CallbackQuery.Data)

	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(api.lastCall(t).body, &req))
	assert.Equal(t, float64(10), req["offset"])
	assert.Equal(t, float64(25), req["timeout"])
}

func TestClient_AnswerCallbackQuery(t *testing.T) {
	api := newFakeBotAPI()
	c := newTestClient(t, api)

	require.NoError(t, c.AnswerCallbackQuery(context.Background(), "cb1", ""))

	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(api.lastCall(t).body, &req))
	assert.Equal(t, "cb1", req["callback_query_id"])
}

func TestClient_SendDocument(t *testing.T) {
	api := newFakeBotAPI()
	api.responses["sendDocument"] = `{"ok":true,"result":{"message_id":2,"chat":{"id":7,"type":"private"}}}`
	c := newTestClient(t, api)

	require.NoError(t, c.SendDocument(context.Background(), 7, "staff.xlsx", []byte("PK-data"), "Выгрузка"))

	call := api.lastCall(t)
	assert.Equal(t, "sendDocument", call.method)

	fields, fileName, fileBody := documentBody(t, call)
	assert.Equal(t, "7", fields["chat_id"])
	assert.Equal(t, "Выгрузка", fields["caption"])
	assert.Equal(t, "staff.xlsx", fileName)
	assert.Equal(t, "PK-data", fileBody)
}

func TestClient_SendDocumentRetryResendsFullFile(t *testing.T) {
	api := newFakeBotAPI()
	api.queued["sendDocument"] = []int{http.StatusBadGateway}
	api.responses["sendDocument"] = `{"ok":true,"result":{"message_id":2,"chat":{"id":7,"type":"private"}}}`
	c := withFastRetries(newTestClient(t, api))

	require.NoError(t, c.SendDocument(context.Background(), 7, "staff.xlsx", []byte("PK-xlsx-data"), ""))

	calls := api.callsTo("sendDocument")
	require.Len(t, calls, 2)
	for i, call := range calls {
		_, _, body := documentBody(t, call)
		assert.Equal(t, "PK-xlsx-data", body, "attempt %d", i+1)
	}
}

func TestClient_RetryPolicy(t *testing.T) {
	t.Run("sendMessage is not resent after 5xx", func(t *testing.T) {
		api := newFakeBotAPI()
		api.queued["sendMessage"] = []int{http.StatusBadGateway}
		c := withFastRetries(newTestClient(t, api))

		err := c.SendMessage(context.Background(), 42, "напоминание", nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadGateway, apiErr.Code)
		assert.Len(t, api.callsTo("sendMessage"), 1)
	})

	t.Run("sendMessage is resent after 429", func(t *testing.T) {
		api := newFakeBotAPI()
		api.queued["sendMessage"] = []int{http.StatusTooManyRequests}
		api.responses["sendMessage"] = `{"ok":true,"result":{"message_id":1,"chat":{"id":42,"type":"private"}}}`
		c := withFastRetries(newTestClient(t, api))

		require.NoError(t, c.SendMessage(context.Background(), 42, "напоминание", nil))
		assert.Len(t, api.callsTo("sendMessage"), 2)
	})

	t.Run("getUpdates is resent after 5xx", func(t *testing.T) {
		api := newFakeBotAPI()
		api.queued["getUpdates"] = []int{http.StatusInternalServerError}
		api.responses["getUpdates"] = `{"ok":true,"result":[]}`
		c := withFastRetries(newTestClient(t, api))

		updates, err := c.GetUpdates(context.Background(), 0, time.Second)
		require.NoError(t, err)
		assert.Empty(t, updates)
		assert.Len(t, api.callsTo("getUpdates"), 2)
	})
}

func TestClient_GetMe(t *testing.T) {
	api := newFakeBotAPI()
	api.responses["getMe"] = `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"medbook","username":"medbook_bot"}}`
	c := newTestClient(t, api)

	me, err := c.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(99), me.ID)
	assert.True(t, me.IsBot)
}

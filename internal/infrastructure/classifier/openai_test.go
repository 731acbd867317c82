package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
	"github.com/OrsiniBr/DoTrust/internal/domain/moderation"
)

func completionServer(t *testing.T, content string, status int, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   DefaultModel,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func newTestClassifier(url string) *OpenAIClassifier {
	c := New(Config{APIKey: "test", BaseURL: url + "/v1", Timeout: 5 * time.Second}, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestClassify_Toxic(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, `{"isLowQuality":false,"isToxic":true,"toxicityScore":0.9,"qualityScore":0.2,"violationType":"toxic","reasoning":"insult","confidence":0.95,"pointsToDeduct":0}`, http.StatusOK, &seen)
	defer srv.Close()

	v, err := newTestClassifier(srv.URL).Classify(context.Background(), moderation.Request{
		Text:    "you are an idiot",
		History: []moderation.HistoryLine{{FromAuthor: false, Text: "how was your day?"}},
	})
	require.NoError(t, err)

	assert.True(t, v.IsToxic)
	assert.Equal(t, 2, v.PointsToDeduct)
	assert.True(t, v.ContextAware)
	assert.Equal(t, moderation.ViolationToxic, v.ViolationType)
	assert.False(t, v.ProcessedAt.IsZero())

	assert.Equal(t, DefaultModel, seen["model"])
	assert.InDelta(t, 0.3, seen["temperature"], 1e-9)
	format, _ := seen["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
	msgs, _ := seen["messages"].([]any)
	require.Len(t, msgs, 2)
	user, _ := msgs[1].(map[string]any)
	assert.Contains(t, user["content"], "[Other User]: how was your day?")
	assert.Contains(t, user["content"], "[Current User]: you are an idiot")
}

func TestClassify_MalformedJSON(t *testing.T) {
	srv := completionServer(t, "not json at all", http.StatusOK, nil)
	defer srv.Close()

	_, err := newTestClassifier(srv.URL).Classify(context.Background(), moderation.Request{Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternalService, apperr.KindOf(err))
}

func TestClassify_UpstreamError(t *testing.T) {
	srv := completionServer(t, "", http.StatusInternalServerError, nil)
	defer srv.Close()

	_, err := newTestClassifier(srv.URL).Classify(context.Background(), moderation.Request{Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternalService, apperr.KindOf(err))
}

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict("```json\n{\"isLowQuality\":true,\"isToxic\":false,\"qualityScore\":1.7,\"pointsToDeduct\":2}\n```")
	require.NoError(t, err)
	assert.Equal(t, 1, v.PointsToDeduct)
	assert.Equal(t, 1.0, v.QualityScore)
	assert.Equal(t, moderation.ViolationNone, v.ViolationType)

	_, err = ParseVerdict("{")
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(moderation.Request{Text: "ok"})
	assert.Contains(t, p, "(No previous messages)")
	assert.Contains(t, p, "[Current User]: ok")

	p = BuildPrompt(moderation.Request{
		Text: "sure",
		History: []moderation.HistoryLine{
			{FromAuthor: true, Text: "first"},
			{FromAuthor: false, Text: "second"},
		},
	})
	assert.Contains(t, p, "[Current User]: first\n[Other User]: second")
	assert.NotContains(t, p, "(No previous messages)")
}

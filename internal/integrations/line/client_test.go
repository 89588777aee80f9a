package line

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(" ")
	require.Error(t, err)

	c, err := NewClient("tok", WithBaseURL(""))
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
}

func TestPush_SendsSingleTextMessage(t *testing.T) {
	var gotPath, gotAuth string
	var got pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewClient("channel-token", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	require.NoError(t, c.Push(context.Background(), "U123", "こんにちは"))
	require.Equal(t, "/v2/bot/message/push", gotPath)
	require.Equal(t, "Bearer channel-token", gotAuth)
	require.Equal(t, pushRequest{To: "U123", Messages: []textMessage{{Type: "text", Text: "こんにちは"}}}, got)
}

func TestPush_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The property, 'to', in the request body is invalid"}`))
	}))
	defer srv.Close()

	c, err := NewClient("tok", WithBaseURL(srv.URL))
	require.NoError(t, err)

	err = c.Push(context.Background(), "bad-user", "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Contains(t, apiErr.Error(), "invalid")
}

func TestPush_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c, err := NewClient("tok", WithBaseURL(srv.URL))
	require.NoError(t, err)
	err = c.Push(context.Background(), "U1", "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "line: push")
}

func TestPush_RejectsEmptyInput(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ }))
	defer srv.Close()

	c, err := NewClient("tok", WithBaseURL(srv.URL))
	require.NoError(t, err)
	require.Error(t, c.Push(context.Background(), "U1", ""))
	require.Error(t, c.Push(context.Background(), "", "hi"))
	require.Zero(t, calls)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	long := strings.Repeat("査", 5001)
	out := truncate(long, maxTextRunes)
	require.Equal(t, maxTextRunes, utf8.RuneCountInString(out))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	sig := Sign("secret", body)

	require.True(t, VerifySignature("secret", body, sig))
	require.False(t, VerifySignature("other", body, sig))
	require.False(t, VerifySignature("secret", []byte(`{"events":[{}]}`), sig))
	require.False(t, VerifySignature("secret", body, ""))
	require.False(t, VerifySignature("secret", body, "%%%not-base64"))
	require.False(t, VerifySignature("", body, sig))
}

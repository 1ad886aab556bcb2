package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Notification {
	return Notification{
		ProcessID:         "p1",
		ProcessNumber:     "2024123456",
		UserID:            "u1",
		CurrentStageLabel: "Triagem",
		Event:             EventApproved,
		NextStageLabel:    "Vistoria",
		Contact:           Contact{Name: "Ana", Phone: "+5511999990000", Email: "ana@example.com"},
	}
}

func TestWebhookPostsJSONWithToken(t *testing.T) {
	var got webhookMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := Webhook{URL: srv.URL, Token: "secret"}.Dispatch(context.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "+5511999990000", got.To)
	assert.Equal(t, "2024123456", got.ProcessNumber)
	assert.Contains(t, got.Text, "Próxima etapa: Vistoria")
}

func TestWebhookNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := Webhook{URL: srv.URL}.Dispatch(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEmailRendersTemplate(t *testing.T) {
	var sent []byte
	var rcpt []string
	e := Email{From: "portal@cbm.gov.br", FromName: "AVCB", Send: func(_ context.Context, from string, to []string, msg []byte) error {
		rcpt = to
		sent = msg
		return nil
	}}
	n := sample()
	n.Event = EventRejected
	n.Reason = "planta <incompleta>"
	require.NoError(t, e.Dispatch(context.Background(), n))
	assert.Equal(t, []string{"ana@example.com"}, rcpt)
	body := string(sent)
	assert.Contains(t, body, "Content-Type: text/html")
	assert.Contains(t, body, "planta &lt;incompleta&gt;")
}

func TestEmailWithoutAddressFails(t *testing.T) {
	n := sample()
	n.Contact.Email = ""
	assert.Error(t, Email{Send: func(context.Context, string, []string, []byte) error { return nil }}.Dispatch(context.Background(), n))
}

type countingDispatcher struct {
	calls atomic.Int32
	err   error
}

func (c *countingDispatcher) Dispatch(context.Context, Notification) error {
	c.calls.Add(1)
	return c.err
}

func TestMultiAttemptsAllAndJoinsErrors(t *testing.T) {
	a := &countingDispatcher{err: errors.New("whatsapp down")}
	b := &countingDispatcher{}
	c := &countingDispatcher{err: errors.New("smtp down")}
	err := Multi{a, b, c}.Dispatch(context.Background(), sample())
	require.Error(t, err)
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, int32(1), c.calls.Load())
	assert.True(t, strings.Contains(err.Error(), "whatsapp down") && strings.Contains(err.Error(), "smtp down"))
}

func TestMessageForRejection(t *testing.T) {
	n := sample()
	n.Event = EventRejected
	n.Reason = "incomplete plan"
	msg := Message(n)
	assert.Contains(t, msg, "exigência")
	assert.Contains(t, msg, "incomplete plan")
}

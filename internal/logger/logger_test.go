package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captureSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (c *captureSender) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := msg.(tgbotapi.MessageConfig); ok {
		c.sent = append(c.sent, m)
	}
	return tgbotapi.Message{}, c.err
}

func TestNewLevels(t *testing.T) {
	_, err := New("debug")
	require.NoError(t, err)
	_, err = New("")
	require.NoError(t, err)
	_, err = New("loud")
	require.Error(t, err)
}

func TestNotifier(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier(s, 100, nil)
	n.NotifyAdmin("credit gap")
	require.Len(t, s.sent, 1)
	assert.Equal(t, int64(100), s.sent[0].ChatID)
	assert.Equal(t, "[ALERT] credit gap", s.sent[0].Text)

	s.err = errors.New("telegram down")
	assert.NotPanics(t, func() { n.NotifyAdmin("again") })

	assert.NotPanics(t, func() { NewNotifier(nil, 0, nil).NotifyAdmin("nobody listens") })
	var nilNotifier *Notifier
	assert.NotPanics(t, func() { nilNotifier.NotifyAdmin("x") })
}

func TestNotifyOnPanic(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier(s, 1, nil)
	func() {
		defer n.NotifyOnPanic("job")
		panic("boom")
	}()
	require.Len(t, s.sent, 1)
	assert.Contains(t, s.sent[0].Text, "Panic in job: boom")
}

func TestRequestLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := RequestLog(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/cryptobot", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(5), fields["length"])
	assert.Equal(t, "/webhook/cryptobot", fields["path"])
}

package delivery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

func testMessage() Message {
	return Message{
		Recipients: Recipients{
			To:  []string{"einkauf@example.org", "leitung@example.org"},
			Cc:  []string{"archiv@example.org"},
			Bcc: []string{"audit@example.org"},
		},
		Subject: "Ausschreibungen Energie - 03.02.2026\r\nBcc: evil@example.org",
		Body:    "Stand: 03.02.2026 08:30:00\nRückbau Block 5\n",
	}
}

func TestRecipients(t *testing.T) {
	t.Parallel()
	r := testMessage().Recipients
	assert.Equal(t, "einkauf@example.org; leitung@example.org", r.String())
	assert.Len(t, r.All(), 4)
	assert.False(t, r.Empty())
	assert.True(t, Recipients{}.Empty())
}

func TestSanitizeHeader(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abcBcc: x", sanitizeHeader("a\r\nb\tc\x7fBcc: x"))
	assert.Equal(t, "Größe ✓", sanitizeHeader("Größe ✓"))
}

func TestBuildMIME(t *testing.T) {
	t.Parallel()
	raw, err := buildMIME("Tender Watch <noreply@example.org>", testMessage(), time.Date(2026, 2, 3, 8, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	head, body, ok := strings.Cut(string(raw), "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, head, "To: <einkauf@example.org>, <leitung@example.org>\r\n")
	assert.Contains(t, head, "Cc: <archiv@example.org>\r\n")
	assert.NotContains(t, head, "audit@example.org")
	assert.NotContains(t, head, "\r\nBcc:")
	assert.Contains(t, head, "Content-Type: text/plain; charset=utf-8")

	var subject string
	for _, line := range strings.Split(head, "\r\n") {
		if v, found := strings.CutPrefix(line, "Subject: "); found {
			subject = v
		}
	}
	decoded, err := new(mime.WordDecoder).DecodeHeader(subject)
	require.NoError(t, err)
	assert.Equal(t, "Ausschreibungen Energie - 03.02.2026Bcc: evil@example.org", decoded)

	plain, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body)))
	require.NoError(t, err)
	assert.Equal(t, "Stand: 03.02.2026 08:30:00\r\nRückbau Block 5\r\n", string(plain))
}

func TestSMTPProviderSends(t *testing.T) {
	t.Parallel()
	p := NewSMTPProvider(SMTPConfig{Host: "mail.example.org", Username: "u", Password: "p"}, "noreply@example.org", zap.NewNop())
	var (
		gotAddr string
		gotTo   []string
		gotMsg  []byte
	)
	p.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		assert.NotNil(t, a)
		assert.Equal(t, "noreply@example.org", from)
		return nil
	}
	require.NoError(t, p.Send(context.Background(), testMessage()))
	assert.Equal(t, "mail.example.org:587", gotAddr)
	assert.Equal(t, []string{"einkauf@example.org", "leitung@example.org", "archiv@example.org", "audit@example.org"}, gotTo)
	assert.Contains(t, string(gotMsg), "MIME-Version: 1.0")
}

func TestSMTPProviderRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	p := NewSMTPProvider(SMTPConfig{Host: "h", Attempts: 3, RetryDelay: time.Millisecond}, "f@example.org", zap.NewNop())
	var calls atomic.Int32
	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		if calls.Add(1) == 1 {
			return &textproto.Error{Code: 421, Msg: "try again later"}
		}
		return nil
	}
	require.NoError(t, p.Send(context.Background(), testMessage()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSMTPProviderPermanentFailure(t *testing.T) {
	t.Parallel()
	p := NewSMTPProvider(SMTPConfig{Host: "h", Attempts: 3, RetryDelay: time.Millisecond}, "f@example.org", zap.NewNop())
	var calls atomic.Int32
	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		calls.Add(1)
		return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	}
	err := p.Send(context.Background(), testMessage())
	require.Error(t, err)
	var de *tender.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ProviderSMTP, de.Provider)
	assert.Equal(t, int32(1), calls.Load())

	assert.Error(t, p.Send(context.Background(), Message{Subject: "x"}), "no recipients")
}

func TestBrevoProvider(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		var req brevoSendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "noreply@example.org", req.Sender.Email)
		assert.Len(t, req.To, 2)
		assert.Len(t, req.Bcc, 1)
		assert.NotContains(t, req.Subject, "\n")
		assert.Contains(t, req.Text, "Rückbau")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewBrevoProvider(BrevoConfig{APIKey: "secret", Endpoint: srv.URL, RetryDelay: time.Millisecond}, "noreply@example.org", "Tender Watch", zap.NewNop())
	require.NoError(t, p.Send(context.Background(), testMessage()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestBrevoProviderClientErrorIsFinal(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewBrevoProvider(BrevoConfig{Endpoint: srv.URL, RetryDelay: time.Millisecond}, "f@example.org", "", zap.NewNop())
	err := p.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.ErrorContains(t, err, "HTTP 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGmailProvider(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotRaw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var m gmail.Message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		gotRaw = m.Raw
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	p := NewGmailProvider(svc, "noreply@example.org", zap.NewNop())
	require.NoError(t, p.Send(context.Background(), testMessage()))
	assert.Equal(t, "/gmail/v1/users/me/messages/send", gotPath)

	raw, err := base64.URLEncoding.DecodeString(gotRaw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "To: <einkauf@example.org>")
}

func TestLogProviderAndFactory(t *testing.T) {
	t.Parallel()
	p, err := New(context.Background(), Config{Provider: "log"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderLog, p.Name())
	require.NoError(t, p.Send(context.Background(), testMessage()))

	p, err = New(context.Background(), Config{Provider: "SMTP", SMTP: SMTPConfig{Host: "h"}}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderSMTP, p.Name())

	p, err = New(context.Background(), Config{Provider: "brevo"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderBrevo, p.Name())

	_, err = New(context.Background(), Config{Provider: "outlook"}, zap.NewNop())
	assert.Error(t, err)
}

func TestWrapNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, wrap(NewLogProvider(zap.NewNop()), nil))
	err := wrap(NewLogProvider(zap.NewNop()), errors.New("x"))
	var de *tender.DeliveryError
	assert.ErrorAs(t, err, &de)
}

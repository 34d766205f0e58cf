package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTwilio(t *testing.T, handler http.HandlerFunc) *TwilioSender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := NewTwilioSender("AC123", "secret", "+15550001111", nil).WithBaseURL(srv.URL)
	s.retryWait = func() time.Duration { return 0 }
	return s
}

func TestTwilioSender_Sends(t *testing.T) {
	var gotPath, gotTo, gotBody, gotUser string
	s := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	})

	require.NoError(t, s.SendSMS(context.Background(), "+15551234567", "See you tomorrow"))
	assert.Equal(t, "/Accounts/AC123/Messages.json", gotPath)
	assert.Equal(t, "+15551234567", gotTo)
	assert.Equal(t, "See you tomorrow", gotBody)
	assert.Equal(t, "AC123", gotUser)
}

func TestTwilioSender_RetriesServerErrors(t *testing.T) {
	var calls int32
	s := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	require.NoError(t, s.SendSMS(context.Background(), "+15551234567", "hi"))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestTwilioSender_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	s := newTestTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	})
	err := s.SendSMS(context.Background(), "+15551234567", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 21211")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTwilioSender_Validation(t *testing.T) {
	assert.Nil(t, NewTwilioSender("", "", "", nil))

	var nilSender *TwilioSender
	assert.Error(t, nilSender.SendSMS(context.Background(), "+1", "x"))

	s := NewTwilioSender("AC", "tok", "+15550001111", nil)
	assert.Error(t, s.SendSMS(context.Background(), "", "x"))
	assert.Error(t, s.SendSMS(context.Background(), "+15551234567", "  "))
}

func TestFormatTwilioError(t *testing.T) {
	assert.Equal(t, "status 500", formatTwilioError(500, nil))
	assert.Equal(t, "status 502: bad gateway", formatTwilioError(502, []byte(" bad gateway ")))
	assert.Equal(t, "status 401: denied", formatTwilioError(401, []byte(`{"message":"denied"}`)))
}

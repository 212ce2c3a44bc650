package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func signRequest(authToken, fullURL string, params map[string]string) string {
	data := fullURL
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	params := map[string]string{"CallSid": "CA123", "From": "+15551234567"}
	sig := signRequest("token", "https://example.com/twilio/voice", params)

	if !validateSignature("token", sig, "https://example.com/twilio/voice", params) {
		t.Fatalf("valid signature rejected")
	}
	if validateSignature("token", sig, "https://example.com/twilio/other", params) {
		t.Fatalf("signature for wrong url accepted")
	}
	if validateSignature("wrong", sig, "https://example.com/twilio/voice", params) {
		t.Fatalf("signature with wrong token accepted")
	}
	if validateSignature("token", "", "https://example.com/twilio/voice", params) {
		t.Fatalf("empty signature accepted")
	}
}

func TestBuildURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/twilio/voice", nil)
	r.Host = "example.ngrok.io"

	s := New(Config{BaseURL: "https://leadline.example.com/"}, nil)
	if got := s.buildURL(r, "/twilio/voice"); got != "https://leadline.example.com/twilio/voice" {
		t.Fatalf("base url: %s", got)
	}

	s = New(Config{}, nil)
	if got := s.buildURL(r, "/twilio/voice"); got != "https://example.ngrok.io/twilio/voice" {
		t.Fatalf("host heuristic: %s", got)
	}

	r.Header.Set("X-Forwarded-Host", "public.example.com")
	if got := s.buildURL(r, "/twilio/voice"); got != "https://public.example.com/twilio/voice" {
		t.Fatalf("forwarded host: %s", got)
	}

	r2 := httptest.NewRequest(http.MethodPost, "/twilio/voice", nil)
	r2.Host = "localhost:8080"
	if got := s.buildURL(r2, "/twilio/voice"); got != "http://localhost:8080/twilio/voice" {
		t.Fatalf("localhost scheme: %s", got)
	}
}

func newTwilioContext(e *echo.Echo, params map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	r := httptest.NewRequest(http.MethodPost, "/twilio/test", nil)
	w := httptest.NewRecorder()
	c := e.NewContext(r, w)
	c.Set("twilioParams", params)
	return c, w
}

func TestHandleDialComplete_BusyMessage(t *testing.T) {
	e := echo.New()
	s := New(Config{AuthToken: "token"}, nil)
	c, w := newTwilioContext(e, map[string]string{"DialCallStatus": "busy"})

	if err := s.handleDialComplete(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "on another call") || !strings.Contains(body, "<Hangup") {
		t.Fatalf("twiml = %s", body)
	}
}

func TestHandleVoice_NoDestinationHangsUp(t *testing.T) {
	e := echo.New()
	s := New(Config{AuthToken: "token"}, nil)
	c, w := newTwilioContext(e, map[string]string{"From": "+15551234567"})

	if err := s.handleVoice(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	body := w.Body.String()
	if !strings.Contains(body, "No agent is available") || !strings.Contains(body, "<Hangup") {
		t.Fatalf("twiml = %s", body)
	}
}

func TestHandleVoice_DialsDestination(t *testing.T) {
	e := echo.New()
	s := New(Config{AuthToken: "token", DestinationNumber: "+15557654321"}, nil)
	c, w := newTwilioContext(e, map[string]string{"From": "+15551234567", "CallSid": ""})

	if err := s.handleVoice(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Dial") || !strings.Contains(body, "+15557654321") {
		t.Fatalf("twiml = %s", body)
	}
	if !strings.Contains(body, "/twilio/dial-complete") {
		t.Fatalf("missing dial action: %s", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	e := echo.New()
	s := New(Config{AuthToken: "token"}, nil)
	handler := s.authMiddleware(func(c echo.Context) error {
		params := c.Get("twilioParams").(map[string]string)
		return c.String(http.StatusOK, params["CallSid"])
	})

	form := url.Values{}
	form.Set("CallSid", "CA123")
	body := form.Encode()

	// valid signature passes and exposes params
	r := httptest.NewRequest(http.MethodPost, "https://example.com/twilio/voice", strings.NewReader(body))
	r.Host = "example.com"
	r.Header.Set("X-Twilio-Signature", signRequest("token", "https://example.com/twilio/voice", map[string]string{"CallSid": "CA123"}))
	w := httptest.NewRecorder()
	if err := handler(e.NewContext(r, w)); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if w.Code != http.StatusOK || w.Body.String() != "CA123" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	// bad signature rejected
	r = httptest.NewRequest(http.MethodPost, "https://example.com/twilio/voice", strings.NewReader(body))
	r.Host = "example.com"
	r.Header.Set("X-Twilio-Signature", "bogus")
	w = httptest.NewRecorder()
	if err := handler(e.NewContext(r, w)); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

type captureStorage struct {
	key, contentType string
	data             []byte
}

func (c *captureStorage) Upload(key, contentType string, data []byte) error {
	c.key, c.contentType, c.data = key, contentType, data
	return nil
}

func TestUploadRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".wav") {
			t.Errorf("expected .wav suffix, got %s", r.URL.Path)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "AC123" || p != "token" {
			t.Errorf("missing basic auth")
		}
		w.Write([]byte("RIFFdata"))
	}))
	defer srv.Close()

	st := &captureStorage{}
	s := New(Config{AccountSID: "AC123", AuthToken: "token"}, st)
	if err := s.uploadRecording(context.Background(), srv.URL+"/rec/RE1", "recordings/r1.wav"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if st.key != "recordings/r1.wav" || st.contentType != "audio/wav" || string(st.data) != "RIFFdata" {
		t.Fatalf("stored %q %q %q", st.key, st.contentType, st.data)
	}
}

package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// Storage receives downloaded call recordings.
type Storage interface {
	Upload(key, contentType string, data []byte) error
}

type Config struct {
	AccountSID        string
	AuthToken         string
	DestinationNumber string
	// BaseURL, when set, is used verbatim for webhook callback URLs.
	// Otherwise the URL is reconstructed from forwarding headers.
	BaseURL string
}

// Service handles inbound phone calls: it answers with a greeting, starts a
// call-level recording, bridges the caller to the configured destination,
// and archives the finished recording.
type Service struct {
	cfg        Config
	storage    Storage
	client     *twilio.RestClient
	httpClient *http.Client
}

func New(cfg Config, storage Storage) *Service {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Service{
		cfg:        cfg,
		storage:    storage,
		client:     client,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Service) RegisterHandlers(e *echo.Echo) {
	e.POST("/twilio/voice", s.handleVoice, s.authMiddleware)
	e.POST("/twilio/recording-status", s.handleRecordingStatus, s.authMiddleware)
	e.POST("/twilio/dial-complete", s.handleDialComplete, s.authMiddleware)
}

func (s *Service) handleVoice(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)

	callSID := params["CallSid"]
	from := params["From"]
	log.Printf("[%s] inbound call from %s", callSID, from)

	if callSID != "" {
		callbackURL := s.buildURL(c.Request(), "/twilio/recording-status")
		go func() {
			if err := s.startRecording(callSID, callbackURL); err != nil {
				log.Printf("[%s] start recording: %v", callSID, err)
			}
		}()
	}

	greeting := "Hello, thanks for calling. Connecting you with an agent now. This call is recorded."
	elements := []twiml.Element{&twiml.VoiceSay{Message: greeting}}
	if s.cfg.DestinationNumber != "" {
		elements = append(elements, &twiml.VoiceDial{
			Action: "/twilio/dial-complete",
			Method: "POST",
			InnerElements: []twiml.Element{
				&twiml.VoiceNumber{PhoneNumber: s.cfg.DestinationNumber},
			},
		})
	} else {
		elements = append(elements,
			&twiml.VoiceSay{Message: "No agent is available right now. Please try again later."},
			&twiml.VoiceHangup{},
		)
	}

	response, err := twiml.Voice(elements)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

func (s *Service) handleRecordingStatus(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)

	status := params["RecordingStatus"]
	recordingURL := params["RecordingUrl"]
	recordingSID := params["RecordingSid"]
	log.Printf("recording %s status: %s", recordingSID, status)

	switch status {
	case "completed":
		if recordingURL == "" {
			break
		}
		filename := fmt.Sprintf("recordings/recording_%s_%d.wav", recordingSID, time.Now().Unix())
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.uploadRecording(ctx, recordingURL, filename); err != nil {
				log.Printf("upload recording %s: %v", recordingSID, err)
			} else {
				log.Printf("recording archived: %s", filename)
			}
		}()
	case "failed", "absent":
		log.Printf("recording %s unavailable: %s", recordingSID, status)
	}

	return c.String(http.StatusOK, "OK")
}

func (s *Service) handleDialComplete(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)

	var message string
	switch params["DialCallStatus"] {
	case "completed":
		message = "Thank you for your call. Goodbye!"
	case "busy":
		message = "The agent is on another call. Please try again later."
	case "no-answer":
		message = "The agent is not answering right now. Please try again later."
	case "failed":
		message = "We could not connect your call. Please try again later."
	default:
		message = "Thank you for calling. Goodbye!"
	}

	response, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: message},
		&twiml.VoiceHangup{},
	})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

// authMiddleware validates the X-Twilio-Signature header and exposes the
// parsed form parameters to the handler via context.
func (s *Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.AuthToken == "" {
			return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, "Failed to read body")
		}
		formData, err := url.ParseQuery(string(body))
		if err != nil {
			return c.String(http.StatusBadRequest, "Failed to parse form")
		}
		params := make(map[string]string)
		for key, values := range formData {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		signature := c.Request().Header.Get("X-Twilio-Signature")
		requestURL := s.buildURL(c.Request(), c.Request().URL.Path)
		if !validateSignature(s.cfg.AuthToken, signature, requestURL, params) {
			return c.String(http.StatusUnauthorized, "Invalid signature")
		}

		c.Set("twilioParams", params)
		return next(c)
	}
}

// validateSignature implements Twilio's request signing scheme: the full
// URL concatenated with sorted form parameters, HMAC-SHA1 with the auth
// token, base64 encoded.
func validateSignature(authToken, signature, fullURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}
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
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// startRecording creates a continuous call-level recording through the
// Twilio REST API.
func (s *Service) startRecording(callSID, callbackURL string) error {
	params := &twilioApi.CreateCallRecordingParams{}
	params.SetRecordingStatusCallback(callbackURL)
	params.SetRecordingStatusCallbackMethod("POST")
	params.SetRecordingStatusCallbackEvent([]string{"completed", "absent"})
	params.SetRecordingChannels("mono")
	params.SetTrim("do-not-trim")

	if _, err := s.client.Api.CreateCallRecording(callSID, params); err != nil {
		return fmt.Errorf("create call recording: %w", err)
	}
	return nil
}

// uploadRecording downloads the finished recording from Twilio and hands it
// to storage.
func (s *Service) uploadRecording(ctx context.Context, recordingURL, filename string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL+".wav", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download recording: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if s.storage == nil {
		return fmt.Errorf("no storage configured")
	}
	return s.storage.Upload(filename, "audio/wav", data)
}

// buildURL reconstructs the public URL Twilio signed. BASE_URL wins;
// otherwise forwarding headers, then the request host.
func (s *Service) buildURL(r *http.Request, path string) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/") + path
	}
	scheme := "https"
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
		if strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1") {
			scheme = "http"
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

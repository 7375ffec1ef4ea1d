// Package telephony adapts the Twilio REST API to the three operations the
// bridge consumes: place a call, fetch its live status, end it. Audio
// transport and dialing stay entirely on Twilio's side.
package telephony

import (
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voicebridge/voicebridge/pkg/domain/call"
	"github.com/voicebridge/voicebridge/pkg/logger"
)

// statusCallbackEvents are the lifecycle events Twilio posts back to
// /status_callback for every placed call.
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// Client is the consumed telephony capability.
type Client interface {
	// PlaceCall dials toNumber, answers with the given TwiML document and
	// registers statusCallbackURL for lifecycle events. Returns the
	// provider-assigned call SID.
	PlaceCall(toNumber, twimlDoc, statusCallbackURL string) (string, error)
	// FetchStatus returns the live provider status of a call.
	FetchStatus(sid string) (call.Status, error)
	// EndCall hangs up an in-flight call.
	EndCall(sid string) error
}

// Config holds the Twilio account settings.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioClient is the production Client backed by the Twilio REST API.
type TwilioClient struct {
	rest *twilio.RestClient
	from string
}

// NewTwilioClient creates a REST-backed client.
func NewTwilioClient(cfg Config) *TwilioClient {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioClient{rest: rest, from: cfg.FromNumber}
}

// PlaceCall implements Client.
func (c *TwilioClient) PlaceCall(toNumber, twimlDoc, statusCallbackURL string) (string, error) {
	if !ValidPhoneNumber(toNumber) {
		return "", ErrInvalidNumber
	}

	params := &twilioapi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(c.from)
	params.SetTwiml(twimlDoc)
	params.SetStatusCallback(statusCallbackURL)
	params.SetStatusCallbackEvent(statusCallbackEvents)

	resp, err := c.rest.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("telephony: place call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("telephony: place call: no SID in response")
	}

	logger.InfoCF("telephony", "Call placed", map[string]interface{}{
		"sid": *resp.Sid,
		"to":  toNumber,
	})
	return *resp.Sid, nil
}

// FetchStatus implements Client.
func (c *TwilioClient) FetchStatus(sid string) (call.Status, error) {
	resp, err := c.rest.Api.FetchCall(sid, &twilioapi.FetchCallParams{})
	if err != nil {
		return "", fmt.Errorf("telephony: fetch call %s: %w", sid, err)
	}
	if resp.Status == nil {
		return "", fmt.Errorf("telephony: fetch call %s: no status in response", sid)
	}
	status, ok := call.ParseStatus(*resp.Status)
	if !ok {
		return "", fmt.Errorf("telephony: fetch call %s: unrecognized status %q", sid, *resp.Status)
	}
	return status, nil
}

// EndCall implements Client. Twilio ends a live call when its status is
// updated to completed.
func (c *TwilioClient) EndCall(sid string) error {
	params := &twilioapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.rest.Api.UpdateCall(sid, params); err != nil {
		return fmt.Errorf("telephony: end call %s: %w", sid, err)
	}
	logger.InfoCF("telephony", "Call ended", map[string]interface{}{"sid": sid})
	return nil
}

// ValidPhoneNumber is a basic E.164 shape check: leading plus and at least
// ten characters.
func ValidPhoneNumber(phone string) bool {
	return len(phone) >= 10 && phone[0] == '+'
}

// TelephonyError is a typed error for telephony failures.
type TelephonyError string

func (e TelephonyError) Error() string { return string(e) }

// ErrInvalidNumber rejects numbers that fail the E.164 shape check.
const ErrInvalidNumber TelephonyError = "telephony: invalid phone number format"

var _ Client = (*TwilioClient)(nil)

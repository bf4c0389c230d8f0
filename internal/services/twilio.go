package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSSender delivers short text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TwilioService sends SMS through Twilio's messaging API.
type TwilioService struct {
	client *twilio.RestClient
	from   string
}

var _ SMSSender = (*TwilioService)(nil)

// NewTwilioService creates a Twilio client. Returns nil when SMS is not configured.
func NewTwilioService(accountSid, authToken, from string) (*TwilioService, error) {
	if accountSid == "" && authToken == "" && from == "" {
		return nil, nil
	}
	if accountSid == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("incomplete Twilio credentials")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	return &TwilioService{client: client, from: from}, nil
}

// SendSMS sends body to the phone number to. The Twilio client has no context
// support, so ctx is only checked before the call.
func (t *TwilioService) SendSMS(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(to)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, msg)
	}

	if resp.Sid != nil {
		log.Debug().Str("sid", *resp.Sid).Msg("sms sent")
	}
	return nil
}

// MockSMSSender records messages instead of sending them.
type MockSMSSender struct {
	mu       sync.Mutex
	Messages []SMSMessage
}

// SMSMessage is one recorded SMS.
type SMSMessage struct {
	To   string
	Body string
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, SMSMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockSMSSender) Sent() []SMSMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SMSMessage(nil), m.Messages...)
}

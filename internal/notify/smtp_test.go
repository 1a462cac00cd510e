package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

func TestSMTPName(t *testing.T) {
	p := NewSMTP(SMTPConfig{Host: "localhost", Port: 2525})
	assert.Equal(t, "smtp", p.Name())
}

func TestSMTPSend_NoRecipients(t *testing.T) {
	p := NewSMTP(SMTPConfig{Host: "localhost", Port: 2525, From: "alerts@storepulse.dev"})
	err := p.Send(context.Background(), Notification{Subject: "x", Message: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recipients")
}

func TestSMTPSend_UnreachableHostErrors(t *testing.T) {
	p := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "alerts@storepulse.dev"})
	err := p.Send(context.Background(), Notification{
		Subject:    "x",
		Message:    "y",
		Recipients: []string{"ops@x.com"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp: send:")
}

func TestSMTPSend_CancelledContext(t *testing.T) {
	p := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "alerts@storepulse.dev"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Send(ctx, Notification{
		Subject:    "x",
		Message:    "y",
		Recipients: []string{"ops@x.com"},
	})
	require.Error(t, err)
}

func TestBuildMessage_IncludesSeverityAndBody(t *testing.T) {
	msg := string(buildMessage("alerts@storepulse.dev", Notification{
		Severity:   heartbeat.SeverityCritical,
		Subject:    "store-1 offline",
		Message:    "no heartbeat for 10 minutes",
		Recipients: []string{"a@x.com", "b@x.com"},
	}))

	assert.True(t, strings.Contains(msg, "From: alerts@storepulse.dev"))
	assert.True(t, strings.Contains(msg, "To: a@x.com, b@x.com"))
	assert.True(t, strings.Contains(msg, "Subject: [critical] store-1 offline"))
	assert.True(t, strings.Contains(msg, "no heartbeat for 10 minutes"))
}

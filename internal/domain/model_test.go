package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderID_NumberOrString(t *testing.T) {
	var n SmsNotification
	require.NoError(t, json.Unmarshal([]byte(`{"phone":"+7","status":"sent","message_id":12345}`), &n))
	assert.Equal(t, ProviderID("12345"), n.MessageID)

	require.NoError(t, json.Unmarshal([]byte(`{"phone":"+7","status":"sent","message_id":"SM1a2b"}`), &n))
	assert.Equal(t, ProviderID("SM1a2b"), n.MessageID)

	out, err := json.Marshal(SmsNotification{Phone: "+7", Status: SmsSent, MessageID: "42"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"message_id":42`)
}

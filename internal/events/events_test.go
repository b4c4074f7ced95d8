package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProducerIsNoop(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, false)
	require.False(t, p.Enabled())
	require.NoError(t, p.Publish(context.Background(), "card_history", "7", map[string]any{"cardId": 7}))
	require.NoError(t, p.Close())

	p = NewProducer(nil, true)
	require.False(t, p.Enabled())
}

func TestEncodeEnvelope(t *testing.T) {
	raw, err := Encode("winner", "42", map[string]any{"winnerId": "u1"})
	require.NoError(t, err)

	var env struct {
		ID      string         `json:"eventId"`
		Type    string         `json:"eventType"`
		Key     string         `json:"key"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	_, err = uuid.Parse(env.ID)
	assert.NoError(t, err)
	assert.Equal(t, "winner", env.Type)
	assert.Equal(t, "42", env.Key)
	assert.Equal(t, "u1", env.Payload["winnerId"])
}

package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type capture struct {
	types []string
	keys  []string
	msgs  []Message
	err   error
}

func (c *capture) Publish(_ context.Context, eventType, key string, payload any) error {
	c.types = append(c.types, eventType)
	c.keys = append(c.keys, key)
	c.msgs = append(c.msgs, payload.(Message))
	return c.err
}

func TestDispatcherRoutesByAudience(t *testing.T) {
	c := &capture{}
	d := New(c)
	d.NotifyUser(context.Background(), "u1", "session_won", map[string]any{"sessionId": 1})
	d.NotifyAdmins(context.Background(), "prize_credit_failed", nil)

	assert.Equal(t, []string{EventUser, EventAdmins}, c.types)
	assert.Equal(t, []string{"u1", "prize_credit_failed"}, c.keys)
	assert.Equal(t, "u1", c.msgs[0].UserID)
	assert.Empty(t, c.msgs[1].UserID)
}

func TestDispatcherSwallowsPublishErrors(t *testing.T) {
	before := metricFailed.Value()
	d := New(&capture{err: errors.New("broker down")})
	d.NotifyUser(context.Background(), "u1", "session_cancelled", nil)
	assert.Equal(t, before+1, metricFailed.Value())

	New(nil).NotifyAdmins(context.Background(), "refund_failed", nil)
}

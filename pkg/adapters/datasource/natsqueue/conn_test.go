package natsqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/models"
)

func TestServerURL(t *testing.T) {
	ds := &models.Datasource{Host: "mq.internal", Port: 4222}
	assert.Equal(t, "nats://mq.internal:4222", serverURL(ds))

	ds.UseTLS = true
	assert.Equal(t, "tls://mq.internal:4222", serverURL(ds))
}

func TestParseMessage(t *testing.T) {
	subject, payload, err := parseMessage("orders.created")
	require.NoError(t, err)
	assert.Equal(t, "orders.created", subject)
	assert.Empty(t, payload)

	subject, payload, err = parseMessage(`orders.created {"id": 42}`)
	require.NoError(t, err)
	assert.Equal(t, "orders.created", subject)
	assert.Equal(t, `{"id": 42}`, payload)

	_, _, err = parseMessage("   ")
	require.Error(t, err)
}

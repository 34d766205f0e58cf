package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinic-booking-agent/internal/config"
	"github.com/wolfman30/clinic-booking-agent/internal/conversation"
	"github.com/wolfman30/clinic-booking-agent/internal/notify"
)

func TestBuildRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, true)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true))

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, true))
}

func TestBuildSessionStore(t *testing.T) {
	_, ok := BuildSessionStore(nil, nil).(*conversation.MemorySessionStore)
	assert.True(t, ok)

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, false)
	t.Cleanup(func() { _ = client.Close() })
	_, ok = BuildSessionStore(client, nil).(*conversation.RedisSessionStore)
	assert.True(t, ok)
}

func TestBuildPoolSkipsWithoutURL(t *testing.T) {
	pool, err := BuildPool(context.Background(), &appconfig.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestBuildInterpreter(t *testing.T) {
	_, err := BuildInterpreter(context.Background(), nil, nil)
	assert.Error(t, err)

	interp, err := BuildInterpreter(context.Background(), &appconfig.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, interp)
}

func TestBuildGatewayDevelopmentStubs(t *testing.T) {
	gw, err := BuildGateway(context.Background(), &appconfig.Config{Env: "development"}, nil)
	require.NoError(t, err)

	to := notify.Recipient{Name: "Jane Doe", Email: "jane@example.com", Phone: "+14155552671"}
	assert.NoError(t, gw.Send(context.Background(), to, notify.ChannelEmail, notify.Content{Subject: "hi", Body: "hello"}))
	assert.NoError(t, gw.Send(context.Background(), to, notify.ChannelSMS, notify.Content{Body: "hello"}))
}

func TestBuildGatewayProductionWithoutProviders(t *testing.T) {
	gw, err := BuildGateway(context.Background(), &appconfig.Config{Env: "production"}, nil)
	require.NoError(t, err)

	err = gw.Send(context.Background(), notify.Recipient{Email: "jane@example.com"}, notify.ChannelEmail, notify.Content{Subject: "hi"})
	var derr *notify.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, notify.ChannelEmail, derr.Channel)
}

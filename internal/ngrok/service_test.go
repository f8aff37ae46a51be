package ngrok

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossdeck/internal/config"
)

func TestDisabledServiceIsNil(t *testing.T) {
	svc, err := NewService(&config.TunnelConfig{Enabled: false}, logrus.New())
	require.NoError(t, err)
	assert.Nil(t, svc)

	assert.NoError(t, svc.StartTunnel(context.Background(), "127.0.0.1:8080"))
	assert.Empty(t, svc.GetPublicURL())
	assert.NoError(t, svc.Stop())
	svc.Wait(context.Background())
}

func TestEnabledWithoutToken(t *testing.T) {
	_, err := NewService(&config.TunnelConfig{Enabled: true}, logrus.New())
	assert.ErrorContains(t, err, config.EnvNgrokAuthToken)
}

func TestTrafficPolicy(t *testing.T) {
	p := trafficPolicy("github")
	assert.Contains(t, p, "type: oauth")
	assert.Contains(t, p, "provider: github")
}

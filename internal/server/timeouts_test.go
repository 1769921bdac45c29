package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/appgate/internal/config"
)

func TestNewAppliesDefaults(t *testing.T) {
	srv := New(config.HTTP{ListenAddr: ":5000"}, http.NotFoundHandler(), zaptest.NewLogger(t))
	require.Equal(t, ":5000", srv.Addr)
	require.Equal(t, defaultRead, srv.ReadTimeout)
	require.Equal(t, defaultWrite, srv.WriteTimeout)
	require.Equal(t, defaultIdle, srv.IdleTimeout)
	require.NotNil(t, srv.ErrorLog)

	srv = New(config.HTTP{ListenAddr: ":1", WriteTimeout: time.Minute}, http.NotFoundHandler(), nil)
	require.Equal(t, time.Minute, srv.WriteTimeout)
}

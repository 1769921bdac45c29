package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesDailyFile(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })
	dir := filepath.Join(t.TempDir(), "logs")

	l, err := New(Options{Dir: dir, Level: "debug"})
	require.NoError(t, err)
	l.Debug("tenant connected", zap.String("host", "shop.example.com"))
	_ = l.Sync()

	b, err := os.ReadFile(filepath.Join(dir, time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"tenant connected"`)
	require.Contains(t, string(b), `"host":"shop.example.com"`)
	require.Same(t, l, zap.L(), "installed as the global logger")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint32(10000), cfg.DcStaticSyncIterations)
	assert.Equal(t, 0, cfg.RetryBehaviour.Retries())
	assert.Equal(t, 30*time.Millisecond, cfg.Timeouts.Pdu)
	assert.Equal(t, time.Duration(0), cfg.Timeouts.WaitLoopDelay)
}

func TestRetryBehaviour(t *testing.T) {
	assert.Equal(t, 0, RetryBehaviour{Kind: RetryNone}.Retries())
	assert.Equal(t, 5, RetryBehaviour{Kind: RetryCount, Count: 5}.Retries())
	assert.Greater(t, RetryBehaviour{Kind: RetryForever}.Retries(), 1<<40)
}

func TestLoadFile(t *testing.T) {
	content := `
[master]
interface = eth1
link = pcap
dc_static_sync_iterations = 500

[retry]
behaviour = count
count = 2

[timeouts]
pdu_ms = 10
state_transition_ms = 2000
wait_loop_delay_ms = 1
`
	path := filepath.Join(t.TempDir(), "master.ini")
	assert.Nil(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	assert.Nil(t, err)
	assert.Equal(t, "eth1", cfg.Interface)
	assert.Equal(t, uint32(500), cfg.DcStaticSyncIterations)
	assert.Equal(t, 2, cfg.RetryBehaviour.Retries())
	assert.Equal(t, 10*time.Millisecond, cfg.Timeouts.Pdu)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.StateTransition)
	assert.Equal(t, time.Millisecond, cfg.Timeouts.WaitLoopDelay)
	// Untouched keys keep their defaults
	assert.Equal(t, time.Second, cfg.Timeouts.MailboxResponse)
}

func TestLoadBadRetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.ini")
	assert.Nil(t, os.WriteFile(path, []byte("[retry]\nbehaviour = sometimes\n"), 0644))
	_, err := Load(path)
	assert.NotNil(t, err)
}

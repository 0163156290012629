package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckoutScript(t *testing.T) {
	t.Run("success - steps run in order and stop at the first failure", func(t *testing.T) {
		// act
		script := checkoutScript("/srv/ws/20240101_3f2a9c1", "https://example.com/repo.git", "3f2a9c1")

		// assert
		assert.Equal(t, strings.Join([]string{
			"mkdir -p '/srv/ws/20240101_3f2a9c1'",
			"cd '/srv/ws/20240101_3f2a9c1'",
			"git 'init' '--quiet'",
			"git 'remote' 'add' 'origin' 'https://example.com/repo.git'",
			"git 'fetch' '--quiet' '--depth' '1' 'origin' '3f2a9c1'",
			"git 'checkout' '--quiet' '--detach' 'FETCH_HEAD'",
		}, " && "), script)
	})
	t.Run("success - shell metacharacters stay inside quotes", func(t *testing.T) {
		// act
		script := checkoutScript("/srv/ws/a b", "https://example.com/it's.git", "main; rm -rf /")

		// assert
		assert.Contains(t, script, "mkdir -p '/srv/ws/a b'")
		assert.Contains(t, script, `'https://example.com/it'\''s.git'`)
		assert.Contains(t, script, "'origin' 'main; rm -rf /'")
		assert.NotContains(t, script, " main; rm")
	})
}

func TestNewSSHMaterializer(t *testing.T) {
	t.Run("success - default port is added", func(t *testing.T) {
		sm := NewSSHMaterializer("agent.internal", "ci", nil, "/srv/ws")
		assert.Equal(t, "agent.internal:22", sm.hostname)
	})
	t.Run("success - explicit port is kept", func(t *testing.T) {
		sm := NewSSHMaterializer("agent.internal:2222", "ci", nil, "/srv/ws")
		assert.Equal(t, "agent.internal:2222", sm.hostname)
	})
}

package stealth

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPickPersona(t *testing.T) {
	t.Run("named persona", func(t *testing.T) {
		p := PickPersona("mac-chrome", nil)
		assert.Equal(t, "mac-chrome", p.Name)
		assert.Equal(t, "MacIntel", p.Platform)
	})

	t.Run("unknown name falls back to default", func(t *testing.T) {
		p := PickPersona("amiga-netscape", nil)
		assert.Equal(t, DefaultPersona.Name, p.Name)
	})

	t.Run("empty name without rng is deterministic", func(t *testing.T) {
		p := PickPersona("", nil)
		assert.Equal(t, DefaultPersona.Name, p.Name)
	})

	t.Run("empty name with rng picks from the pool", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		seen := map[string]bool{}
		for i := 0; i < 50; i++ {
			seen[PickPersona("", rng).Name] = true
		}
		assert.GreaterOrEqual(t, len(seen), 2, "rotation should reach more than one persona")
	})
}

func TestPersonaConsistency(t *testing.T) {
	// A persona whose user agent disagrees with its platform is worse than no
	// persona at all.
	for _, name := range Personas() {
		p := PickPersona(name, nil)
		switch p.Platform {
		case "Win32":
			assert.Contains(t, p.UserAgent, "Windows", "persona %s", p.Name)
		case "MacIntel":
			assert.Contains(t, p.UserAgent, "Macintosh", "persona %s", p.Name)
		case "Linux x86_64":
			assert.Contains(t, p.UserAgent, "Linux", "persona %s", p.Name)
		}
		assert.NotEmpty(t, p.Timezone, "persona %s", p.Name)
		assert.NotEmpty(t, p.Languages, "persona %s", p.Name)
		assert.Greater(t, p.Viewport[0], 0, "persona %s", p.Name)
	}
}

func TestApply(t *testing.T) {
	core, observedLogs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	tasks := Apply(DefaultPersona, logger)
	require.NotEmpty(t, tasks)

	logs := observedLogs.FilterMessage("Applying browser stealth persona").All()
	require.Len(t, logs, 1)
	assert.Equal(t, DefaultPersona.UserAgent, logs[0].ContextMap()["userAgent"])
}

func TestEvasionsScriptEmbedded(t *testing.T) {
	require.NotEmpty(t, evasionsScript)
	for _, patch := range []string{"webdriver", "plugins", "chrome", "permissions.query", "getImageData"} {
		assert.Contains(t, evasionsScript, patch)
	}
}

func TestIsBlockPage(t *testing.T) {
	assert.True(t, IsBlockPage("<html><body><h1>Access Denied</h1></body></html>"))
	assert.True(t, IsBlockPage("You don't have permission. Reference #18.1234"))
	assert.False(t, IsBlockPage("<html><body>Welcome back!</body></html>"))
	assert.False(t, IsBlockPage(strings.Repeat("orders ", 100)))
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "en-IN,en;q=0.9", acceptLanguage([]string{"en-IN", "en"}))
	assert.Equal(t, "en-GB", acceptLanguage([]string{"en-GB"}), "single-language personas must not panic")
	assert.Equal(t, "en-US,en;q=0.9", acceptLanguage(nil))
}

func TestApplySingleLanguagePersona(t *testing.T) {
	p := DefaultPersona
	p.Languages = []string{"en-GB"}

	assert.NotPanics(t, func() {
		Apply(p, zap.NewNop())
	})
}

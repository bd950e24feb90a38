package stealth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// ErrBlocked indicates the site served its bot-detection interstitial instead
// of the requested page.
var ErrBlocked = errors.New("request blocked by site bot detection")

// Persona defines the browser characteristics to emulate. All fields of one
// persona are internally consistent; mixing a Windows user agent with a Mac
// platform is itself a detection signal.
type Persona struct {
	Name      string
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
	Viewport  [2]int
}

// DefaultPersona provides a realistic default browser profile.
var DefaultPersona = Persona{
	Name:      "windows-chrome",
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "America/New_York",
	Locale:    "en-US",
	Viewport:  [2]int{1920, 1080},
}

// personaPool holds the profiles PickPersona rotates through.
var personaPool = []Persona{
	DefaultPersona,
	{
		Name:      "mac-chrome",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:  "MacIntel",
		Languages: []string{"en-US", "en"},
		Timezone:  "America/Los_Angeles",
		Locale:    "en-US",
		Viewport:  [2]int{1680, 1050},
	},
	{
		Name:      "linux-chrome",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:  "Linux x86_64",
		Languages: []string{"en-US", "en"},
		Timezone:  "Asia/Kolkata",
		Locale:    "en-IN",
		Viewport:  [2]int{1920, 1080},
	},
}

// PickPersona returns the named persona, or a random one when name is empty.
// Unknown names fall back to the default so a config typo degrades instead of
// failing the run.
func PickPersona(name string, rng *rand.Rand) Persona {
	if name == "" {
		if rng == nil {
			return DefaultPersona
		}
		return personaPool[rng.Intn(len(personaPool))]
	}
	for _, p := range personaPool {
		if p.Name == name {
			return p
		}
	}
	return DefaultPersona
}

// Personas lists the names of all built-in personas.
func Personas() []string {
	names := make([]string, len(personaPool))
	for i, p := range personaPool {
		names[i] = p.Name
	}
	return names
}

// Apply constructs a sequence of Chrome DevTools Protocol actions to make the
// headless browser appear more like a standard, user-operated browser.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("persona", p.Name),
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	return chromedp.Tasks{
		// 1. Set the User-Agent override together with the matching platform.
		emulation.SetUserAgentOverride(p.UserAgent).WithPlatform(p.Platform),

		// 2. Inject the evasions.js script. This requires an ActionFunc wrapper
		// because its Do() method returns two values, which doesn't match the
		// chromedp.Action interface.
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),

		// 3. Match the viewport to the persona.
		emulation.SetDeviceMetricsOverride(int64(p.Viewport[0]), int64(p.Viewport[1]), 1.0, false),

		// 4. Set the timezone and locale.
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),

		// 5. Set consistent HTTP headers to match the persona's language settings.
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(p.Languages),
		}),
	}
}

// acceptLanguage renders the persona's language list as an Accept-Language
// header, tolerating personas that carry fewer than two entries.
func acceptLanguage(langs []string) string {
	switch len(langs) {
	case 0:
		return "en-US,en;q=0.9"
	case 1:
		return langs[0]
	default:
		return fmt.Sprintf("%s,%s;q=0.9", langs[0], langs[1])
	}
}

// blockMarkers are the phrases the target's CDN serves on its denial page.
var blockMarkers = []string{
	"Access Denied",
	"Reference #",
}

// IsBlockPage reports whether the page content is the bot-detection
// interstitial rather than real site content.
func IsBlockPage(content string) bool {
	for _, marker := range blockMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

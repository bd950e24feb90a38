// Package humanoid generates human-plausible input: curved mouse paths,
// cognitive pauses and uneven typing cadence. Sites that fingerprint input
// timing see straight-line instant moves and metronomic keystrokes as
// automation.
package humanoid

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/internal/config"
)

// MouseButton mirrors the CDP protocol strings.
type MouseButton string

const (
	MouseButtonNone MouseButton = "none"
	MouseButtonLeft MouseButton = "left"
)

// MouseEventData is the browser-agnostic payload handed to the Executor.
type MouseEventData struct {
	Type       string // "mouseMoved", "mousePressed", "mouseReleased", "mouseWheel"
	X          float64
	Y          float64
	Button     MouseButton
	ClickCount int
	DeltaX     float64 // wheel events only
	DeltaY     float64
}

// Executor abstracts the browser automation layer so the movement and typing
// models can be tested without a live browser.
type Executor interface {
	// Sleep pauses execution, respecting context cancellation.
	Sleep(ctx context.Context, d time.Duration) error
	// DispatchMouseEvent sends a low-level mouse event.
	DispatchMouseEvent(ctx context.Context, data MouseEventData) error
	// SendKeys delivers keystrokes to the currently focused element.
	SendKeys(ctx context.Context, keys string) error
}

// Humanoid manages the state and execution of human-like interactions.
type Humanoid struct {
	cfg    config.HumanoidConfig
	exec   Executor
	logger *zap.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	currentX   float64
	currentY   float64
	lastAction time.Time
}

// New creates a Humanoid. A zero cfg.Seed seeds from the clock; a fixed seed
// makes every delay and path reproducible for tests.
func New(cfg config.HumanoidConfig, exec Executor, logger *zap.Logger) *Humanoid {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Humanoid{
		cfg:    cfg,
		exec:   exec,
		logger: logger.Named("humanoid"),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Pause sleeps for a uniformly random duration between the configured
// bounds.
func (h *Humanoid) Pause(ctx context.Context) error {
	h.mu.Lock()
	span := h.cfg.PauseMax - h.cfg.PauseMin
	d := h.cfg.PauseMin
	if span > 0 {
		d += time.Duration(h.rng.Int63n(int64(span)))
	}
	h.mu.Unlock()
	return h.exec.Sleep(ctx, d)
}

// CognitivePause models the think-time before a deliberate action using a
// normal distribution clamped to sane bounds.
func (h *Humanoid) CognitivePause(ctx context.Context, mean, stdDev time.Duration) error {
	h.mu.Lock()
	d := time.Duration(h.rng.NormFloat64()*float64(stdDev) + float64(mean))
	h.mu.Unlock()
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return h.exec.Sleep(ctx, d)
}

// MoveTo walks the cursor from its current position to (x, y) along an eased
// curve with per-step jitter, occasionally overshooting and correcting.
func (h *Humanoid) MoveTo(ctx context.Context, x, y float64) error {
	h.mu.Lock()
	startX, startY := h.currentX, h.currentY
	steps := h.cfg.MoveSteps
	overshoot := h.rng.Float64() < h.cfg.MoveOvershot
	jitterX := make([]float64, steps)
	jitterY := make([]float64, steps)
	for i := range jitterX {
		jitterX[i] = h.rng.NormFloat64() * 1.5
		jitterY[i] = h.rng.NormFloat64() * 1.5
	}
	h.mu.Unlock()

	targetX, targetY := x, y
	if overshoot {
		// Slide a few pixels past the target, then settle back.
		targetX += (targetX - startX) * 0.04
		targetY += (targetY - startY) * 0.04
	}

	for i := 1; i <= steps; i++ {
		t := easeInOut(float64(i) / float64(steps))
		px := startX + (targetX-startX)*t
		py := startY + (targetY-startY)*t
		if i < steps {
			px += jitterX[i-1]
			py += jitterY[i-1]
		}
		if err := h.dispatchMove(ctx, px, py); err != nil {
			return err
		}
		if err := h.exec.Sleep(ctx, time.Duration(4+i%5)*time.Millisecond); err != nil {
			return err
		}
	}

	if overshoot {
		if err := h.dispatchMove(ctx, x, y); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.currentX, h.currentY = x, y
	h.lastAction = time.Now()
	h.mu.Unlock()
	return nil
}

// Click moves to the point, hesitates sometimes, then presses and releases.
func (h *Humanoid) Click(ctx context.Context, x, y float64) error {
	if err := h.MoveTo(ctx, x, y); err != nil {
		return err
	}

	h.mu.Lock()
	hesitate := h.rng.Float64() < h.cfg.HesitationRate
	holdFor := time.Duration(40+h.rng.Intn(80)) * time.Millisecond
	h.mu.Unlock()

	if hesitate {
		if err := h.CognitivePause(ctx, 300*time.Millisecond, 120*time.Millisecond); err != nil {
			return err
		}
	}

	press := MouseEventData{Type: "mousePressed", X: x, Y: y, Button: MouseButtonLeft, ClickCount: 1}
	if err := h.exec.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}
	if err := h.exec.Sleep(ctx, holdFor); err != nil {
		return err
	}
	release := MouseEventData{Type: "mouseReleased", X: x, Y: y, Button: MouseButtonLeft, ClickCount: 1}
	return h.exec.DispatchMouseEvent(ctx, release)
}

// TypeText sends the text one rune at a time with a randomized inter-key
// delay. With a non-zero TypoRate it occasionally hits an adjacent key
// first, notices, and backspaces before typing the intended rune. The caller
// is responsible for focusing the target field first.
func (h *Humanoid) TypeText(ctx context.Context, text string) error {
	for _, r := range text {
		h.mu.Lock()
		var wrong rune
		if h.cfg.TypoRate > 0 && h.rng.Float64() < h.cfg.TypoRate {
			wrong = neighborKey(h.rng, r)
		}
		h.mu.Unlock()

		if wrong != 0 {
			if err := h.sendKeyPaced(ctx, string(wrong)); err != nil {
				return err
			}
			if err := h.CognitivePause(ctx, 180*time.Millisecond, 60*time.Millisecond); err != nil {
				return err
			}
			if err := h.sendKeyPaced(ctx, "\b"); err != nil {
				return err
			}
		}
		if err := h.sendKeyPaced(ctx, string(r)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Humanoid) sendKeyPaced(ctx context.Context, key string) error {
	if err := h.exec.SendKeys(ctx, key); err != nil {
		return err
	}

	h.mu.Lock()
	d := h.cfg.KeyDelayBase
	if h.cfg.KeyDelayJitter > 0 {
		d += time.Duration(h.rng.Int63n(int64(h.cfg.KeyDelayJitter)))
	}
	h.mu.Unlock()

	return h.exec.Sleep(ctx, d)
}

// keyNeighbors maps each key to the ones physically beside it on a QWERTY
// layout.
var keyNeighbors = map[rune][]rune{
	'1': {'2', 'q'}, '2': {'1', '3', 'w'}, '3': {'2', '4', 'e'}, '4': {'3', '5', 'r'},
	'5': {'4', '6', 't'}, '6': {'5', '7', 'y'}, '7': {'6', '8', 'u'}, '8': {'7', '9', 'i'},
	'9': {'8', '0', 'o'}, '0': {'9', 'p'},
	'q': {'w', 'a'}, 'w': {'q', 'e', 's'}, 'e': {'w', 'r', 'd'}, 'r': {'e', 't', 'f'},
	't': {'r', 'y', 'g'}, 'y': {'t', 'u', 'h'}, 'u': {'y', 'i', 'j'}, 'i': {'u', 'o', 'k'},
	'o': {'i', 'p', 'l'}, 'p': {'o', 'l'},
	'a': {'q', 's', 'z'}, 's': {'a', 'd', 'w', 'x'}, 'd': {'s', 'f', 'e', 'c'},
	'f': {'d', 'g', 'r', 'v'}, 'g': {'f', 'h', 't', 'b'}, 'h': {'g', 'j', 'y', 'n'},
	'j': {'h', 'k', 'u', 'm'}, 'k': {'j', 'l', 'i'}, 'l': {'k', 'o'},
	'z': {'a', 'x'}, 'x': {'z', 'c', 's'}, 'c': {'x', 'v', 'd'}, 'v': {'c', 'b', 'f'},
	'b': {'v', 'n', 'g'}, 'n': {'b', 'm', 'h'}, 'm': {'n', 'j'},
}

// neighborKey picks a key adjacent to r, or zero when r has no mapped
// neighbors (punctuation, unicode). Caller holds the rng lock.
func neighborKey(rng *rand.Rand, r rune) rune {
	adj, ok := keyNeighbors[unicode.ToLower(r)]
	if !ok {
		return 0
	}
	return adj[rng.Intn(len(adj))]
}

// Hesitate injects the idle fidgeting people produce between deliberate
// actions: a couple of small cursor drifts and sometimes a stray scroll
// tick. Call it in the gaps between logical steps.
func (h *Humanoid) Hesitate(ctx context.Context) error {
	type drift struct {
		dx, dy float64
		rest   time.Duration
	}

	h.mu.Lock()
	drifts := make([]drift, 1+h.rng.Intn(3))
	for i := range drifts {
		drifts[i] = drift{
			dx:   h.rng.NormFloat64() * 12,
			dy:   h.rng.NormFloat64() * 8,
			rest: time.Duration(30+h.rng.Intn(90)) * time.Millisecond,
		}
	}
	scroll := h.rng.Float64() < 0.3
	scrollBy := float64(40 + h.rng.Intn(120))
	if h.rng.Float64() < 0.5 {
		scrollBy = -scrollBy
	}
	x, y := h.currentX, h.currentY
	h.mu.Unlock()

	for _, d := range drifts {
		x += d.dx
		y += d.dy
		if x < 0 {
			x = 0
		}
		if y < 0 {
			y = 0
		}
		if err := h.dispatchMove(ctx, x, y); err != nil {
			return err
		}
		if err := h.exec.Sleep(ctx, d.rest); err != nil {
			return err
		}
	}

	if scroll {
		wheel := MouseEventData{Type: "mouseWheel", X: x, Y: y, Button: MouseButtonNone, DeltaY: scrollBy}
		if err := h.exec.DispatchMouseEvent(ctx, wheel); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.currentX, h.currentY = x, y
	h.mu.Unlock()
	return nil
}

// Position returns the cursor's last known coordinates.
func (h *Humanoid) Position() (float64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentX, h.currentY
}

// easeInOut is a smoothstep profile: slow start, fast middle, slow landing.
func easeInOut(t float64) float64 {
	return t * t * (3 - 2*t)
}

// Distance is exposed for callers that scale pauses with travel length.
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

func (h *Humanoid) dispatchMove(ctx context.Context, x, y float64) error {
	return h.exec.DispatchMouseEvent(ctx, MouseEventData{
		Type:   "mouseMoved",
		X:      x,
		Y:      y,
		Button: MouseButtonNone,
	})
}

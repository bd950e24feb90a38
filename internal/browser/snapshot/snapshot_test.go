package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

// stubEvaluator feeds a canned extract.js payload to the extractor.
type stubEvaluator struct {
	payload string
	err     error
}

func (s *stubEvaluator) Evaluate(ctx context.Context, expression string, res interface{}) error {
	if s.err != nil {
		return s.err
	}
	*(res.(*string)) = s.payload
	return nil
}

const samplePayload = `{
  "url": "https://www.ajio.com/",
  "title": "AJIO",
  "viewport": {"w": 1920, "h": 1080},
  "elements": [
    {"tag": "a", "text": "Sign In / Join AJIO", "attrs": {"href": "/login"}, "box": {"x": 1700, "y": 20, "w": 140, "h": 30}, "visible": true},
    {"tag": "input", "text": "", "attrs": {"name": "username", "type": "text", "placeholder": "Enter Mobile Number"}, "box": {"x": 760, "y": 400, "w": 400, "h": 44}, "visible": true},
    {"tag": "input", "text": "", "attrs": {"name": "otp", "type": "number", "maxlength": "6"}, "box": {"x": 760, "y": 460, "w": 400, "h": 44}, "visible": false},
    {"tag": "button", "text": "SEND OTP", "attrs": {"type": "submit", "class": "login-btn"}, "box": {"x": 760, "y": 520, "w": 400, "h": 48}, "visible": true},
    {"tag": "div", "text": "Maybe Later", "attrs": {"role": "button"}, "box": {"x": 900, "y": 700, "w": 120, "h": 36}, "visible": true}
  ]
}`

func TestCapture(t *testing.T) {
	ext := New(&stubEvaluator{payload: samplePayload}, zap.NewNop())

	snap, err := ext.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://www.ajio.com/", snap.URL)
	assert.Equal(t, schemas.BoundingBox{W: 1920, H: 1080}, snap.Viewport)
	require.Len(t, snap.Elements, 5)

	// Handles are dense indexes into the captured slice.
	for i, el := range snap.Elements {
		assert.Equal(t, schemas.Handle(i), el.Handle)
	}

	link := snap.Elements[0]
	assert.Equal(t, schemas.RoleLink, link.Role)
	assert.Equal(t, "Sign In / Join AJIO", link.Text)
	assert.True(t, link.Visible)

	phone := snap.Elements[1]
	assert.Equal(t, schemas.RoleInputTel, phone.Role, "username/mobile text inputs count as phone fields")

	otp := snap.Elements[2]
	assert.Equal(t, schemas.RoleInputOTP, otp.Role)
	assert.False(t, otp.Visible)

	assert.Equal(t, schemas.RoleButton, snap.Elements[3].Role)
	assert.Equal(t, schemas.RoleButton, snap.Elements[4].Role, "role=button divs behave as buttons")
}

func TestCaptureEmptyPage(t *testing.T) {
	ext := New(&stubEvaluator{payload: `{"url": "about:blank", "title": "", "viewport": {"w": 800, "h": 600}, "elements": []}`}, zap.NewNop())

	snap, err := ext.Capture(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestCaptureScriptError(t *testing.T) {
	ext := New(&stubEvaluator{err: errors.New("websocket: close 1006 (abnormal closure)")}, zap.NewNop())

	_, err := ext.Capture(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot extraction script failed")
}

func TestCaptureTransientPageError(t *testing.T) {
	// A document mutating under the script is a normal mid-navigation state:
	// the caller gets an empty snapshot to retry on, not a failure.
	cases := []string{
		"Could not find node with given id",
		"Execution context was destroyed",
		"rpc error: code = -32000",
		"node is detached from document",
	}
	for _, msg := range cases {
		ext := New(&stubEvaluator{err: errors.New(msg)}, zap.NewNop())
		snap, err := ext.Capture(context.Background())
		require.NoError(t, err, msg)
		assert.True(t, snap.Empty(), msg)
	}
}

func TestCaptureMalformedPayload(t *testing.T) {
	ext := New(&stubEvaluator{payload: "<not json>"}, zap.NewNop())

	_, err := ext.Capture(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode snapshot payload")
}

func TestElementLookup(t *testing.T) {
	ext := New(&stubEvaluator{payload: samplePayload}, zap.NewNop())
	snap, err := ext.Capture(context.Background())
	require.NoError(t, err)

	el, ok := snap.Element(3)
	require.True(t, ok)
	assert.Equal(t, "SEND OTP", el.Text)

	_, ok = snap.Element(99)
	assert.False(t, ok)
	_, ok = snap.Element(schemas.InvalidHandle)
	assert.False(t, ok)
}

func TestInferRoleTelInput(t *testing.T) {
	el := jsElement{Tag: "input", Attrs: map[string]string{"type": "tel"}}
	assert.Equal(t, schemas.RoleInputTel, inferRole(el))

	el = jsElement{Tag: "input", Attrs: map[string]string{"type": "text", "placeholder": "Enter phone"}}
	assert.Equal(t, schemas.RoleInputTel, inferRole(el))

	el = jsElement{Tag: "input", Attrs: map[string]string{"type": "text"}}
	assert.Equal(t, schemas.RoleInputText, inferRole(el))
}

package changedetect

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/formpilot/backend/internal/model/form"
)

type scriptedConv struct {
	reply string
	err   error
	calls []string
}

func (s *scriptedConv) Converse(_ context.Context, conversationID, prompt string) (string, error) {
	s.calls = append(s.calls, conversationID+"|"+prompt)
	return s.reply, s.err
}

func TestDetectMarkerBlock(t *testing.T) {
	conv := &scriptedConv{reply: `{"ignored":true}`}
	d := New(conv)

	reply := "Great, I've noted the flow name.\n\nForm Update Available: ```json {\"flowName\":\"Alpha\"}```"
	res := d.Detect(context.Background(), "conv-1", reply, false)

	require.Equal(t, StrategyMarker, res.Strategy)
	require.Equal(t, form.Delta{"flowName": "Alpha"}, res.Delta)
	require.Equal(t, "Great, I've noted the flow name.", res.Clean)
	require.NotContains(t, res.Clean, Marker)
	require.Empty(t, conv.calls, "fallback must not run when the marker produced a delta")
}

func TestDetectMarkerBlockInTheMiddle(t *testing.T) {
	d := New(&scriptedConv{})

	reply := "Noted.\nForm Update Available:\n```json\n{\"schedule\": {\"frequency\": \"Daily\", \"time\": \"02:00\"}}\n```\nWhat is the target system?"
	res := d.Detect(context.Background(), "conv-1", reply, false)

	require.Equal(t, StrategyMarker, res.Strategy)
	require.Equal(t, form.Delta{"schedule": map[string]any{"frequency": "Daily", "time": "02:00"}}, res.Delta)
	require.Equal(t, "Noted.\nWhat is the target system?", res.Clean)
}

func TestDetectMalformedMarkerFallsBack(t *testing.T) {
	conv := &scriptedConv{reply: `{"sourceSystem":"SAP"}`}
	d := New(conv)

	reply := "Form Update Available: ```json {flowName: Alpha,} ```"
	res := d.Detect(context.Background(), "conv-1", reply, false)

	require.Equal(t, []string{"conv-1|" + FallbackPrompt}, conv.calls)
	require.Equal(t, StrategyFallback, res.Strategy)
	require.Equal(t, form.Delta{"sourceSystem": "SAP"}, res.Delta)
	require.Equal(t, reply, res.Clean)
}

func TestDetectAbsentMarkerQueriesFallbackOnce(t *testing.T) {
	conv := &scriptedConv{reply: "```json\n{\"targetSystem\":\"S3\"}\n```"}
	d := New(conv)

	res := d.Detect(context.Background(), "conv-9", "  What is the target system?  ", false)

	require.Len(t, conv.calls, 1)
	require.Equal(t, "conv-9|"+FallbackPrompt, conv.calls[0])
	require.Equal(t, form.Delta{"targetSystem": "S3"}, res.Delta)
	require.Equal(t, "What is the target system?", res.Clean)
}

func TestDetectEmptyObjectIsNoChange(t *testing.T) {
	conv := &scriptedConv{reply: "{}"}
	d := New(conv)

	res := d.Detect(context.Background(), "conv-1", "Anything else?", false)
	require.True(t, res.Delta.IsNoChange())
	require.Equal(t, StrategyNone, res.Strategy)

	res = d.Detect(context.Background(), "conv-1", "Ok. Form Update Available: ```json {}```", false)
	require.True(t, res.Delta.IsNoChange())
	require.Equal(t, "Ok.", res.Clean)
	require.Len(t, conv.calls, 2)
}

func TestDetectUnparsableFallbackIsNoChange(t *testing.T) {
	for _, reply := range []string{"Nothing changed.", `["a"]`, `"flowName"`, ""} {
		conv := &scriptedConv{reply: reply}
		res := New(conv).Detect(context.Background(), "conv-1", "hello", false)
		require.True(t, res.Delta.IsNoChange(), "reply %q", reply)
	}
}

func TestDetectFallbackFailureIsNoChange(t *testing.T) {
	conv := &scriptedConv{err: errors.New("engine down")}
	res := New(conv).Detect(context.Background(), "conv-1", "hello", false)

	require.True(t, res.Delta.IsNoChange())
	require.Equal(t, "hello", res.Clean)
}

func TestDetectManualModeSkipsFallback(t *testing.T) {
	conv := &scriptedConv{reply: `{"flowName":"Alpha"}`}
	res := New(conv).Detect(context.Background(), "conv-1", "Sure, I'll stay quiet.", true)

	require.Empty(t, conv.calls)
	require.Equal(t, StrategySkipped, res.Strategy)
	require.True(t, res.Delta.IsNoChange())
}

func TestDetectManualModeStillHonoursMarker(t *testing.T) {
	conv := &scriptedConv{}
	reply := "Okay. Form Update Available: ```json {\"assistMode\":\"manual\"}```"
	res := New(conv).Detect(context.Background(), "conv-1", reply, true)

	require.Equal(t, form.Delta{"assistMode": "manual"}, res.Delta)
	require.Empty(t, conv.calls)
}

func TestParseDelta(t *testing.T) {
	delta, err := ParseDelta(`  {"flowName":"Alpha"} `)
	require.NoError(t, err)
	require.Equal(t, form.Delta{"flowName": "Alpha"}, delta)

	delta, err = ParseDelta("null")
	require.NoError(t, err)
	require.True(t, delta.IsNoChange())

	_, err = ParseDelta("not json")
	require.True(t, errors.Is(err, ErrMalformedDelta))
}

func TestIsManualModeRequest(t *testing.T) {
	require.True(t, IsManualModeRequest("Please STOP offering   suggestions"))
	require.True(t, IsManualModeRequest("switch to manual mode"))
	require.True(t, IsManualModeRequest("I’ll fill it in myself, thanks"))
	require.False(t, IsManualModeRequest("My flow is Alpha"))
}

// Package changedetect turns free-text dialogue replies into form deltas.
//
// Two strategies are tried in order. The proactive marker strategy looks for
// an embedded block of the form
//
//	Form Update Available: ```json {"field": "value"} ```
//
// and strips it from the text shown to the user. When no usable block is
// present, the fallback strategy asks the engine, on the same conversation,
// to restate the last structured change as bare JSON.
package changedetect

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/formpilot/backend/internal/model/form"
)

const (
	// Marker introduces a proactive update block in a reply.
	Marker = "Form Update Available:"
	// FallbackPrompt asks the engine to report the last structured change.
	FallbackPrompt = "REPORT-LAST-ANSWER"
)

var ErrMalformedDelta = errors.New("malformed delta")

// Strategy names which path produced a result.
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategyMarker   Strategy = "marker"
	StrategyFallback Strategy = "fallback"
	StrategySkipped  Strategy = "manual"
)

var markerBlock = regexp.MustCompile("(?s)\\s*" + regexp.QuoteMeta(Marker) + "\\s*```(?:json)?\\s*(\\{.*?\\})\\s*```")

var fence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// Conversation is the slice of the dialogue gateway the fallback needs.
type Conversation interface {
	Converse(ctx context.Context, conversationID, prompt string) (string, error)
}

// Result is the outcome of running the protocol on one reply.
type Result struct {
	Clean    string
	Delta    form.Delta
	Strategy Strategy
}

// Detector runs the two-strategy protocol.
type Detector struct {
	conv Conversation
}

// New returns a Detector issuing fallback queries through conv.
func New(conv Conversation) *Detector {
	return &Detector{conv: conv}
}

// Detect extracts at most one delta from reply. When manual is set the
// fallback query is never sent.
func (d *Detector) Detect(ctx context.Context, conversationID, reply string, manual bool) Result {
	clean := strings.TrimSpace(reply)

	delta, stripped, err := ExtractMarker(reply)
	switch {
	case err == nil && !delta.IsNoChange():
		return Result{Clean: stripped, Delta: delta, Strategy: StrategyMarker}
	case err == nil:
		// An empty block is not a delta; hide it and keep looking.
		clean = stripped
	case !errors.Is(err, errNoMarker):
		log.Warn().Err(err).Str("component", "changedetect").Str("conversation_id", conversationID).Msg("ignoring proactive update block")
	}

	if manual {
		return Result{Clean: clean, Delta: form.NoChange, Strategy: StrategySkipped}
	}

	answer, err := d.conv.Converse(ctx, conversationID, FallbackPrompt)
	if err != nil {
		log.Warn().Err(err).Str("component", "changedetect").Str("conversation_id", conversationID).Msg("fallback query failed")
		return Result{Clean: clean, Delta: form.NoChange, Strategy: StrategyNone}
	}

	delta, err = ParseDelta(answer)
	if err != nil {
		log.Debug().Err(err).Str("component", "changedetect").Str("conversation_id", conversationID).Msg("fallback reply carries no delta")
		return Result{Clean: clean, Delta: form.NoChange, Strategy: StrategyNone}
	}
	if delta.IsNoChange() {
		return Result{Clean: clean, Delta: form.NoChange, Strategy: StrategyNone}
	}
	return Result{Clean: clean, Delta: delta, Strategy: StrategyFallback}
}

var errNoMarker = errors.New("no proactive update block")

// ExtractMarker finds the first marker block in reply. On success it returns
// the parsed delta and the reply with the block removed. A block holding an
// empty object yields NoChange with the block still removed.
func ExtractMarker(reply string) (form.Delta, string, error) {
	loc := markerBlock.FindStringSubmatchIndex(reply)
	if loc == nil {
		return nil, reply, errNoMarker
	}

	var delta form.Delta
	if err := json.Unmarshal([]byte(reply[loc[2]:loc[3]]), &delta); err != nil {
		return nil, reply, errors.Wrap(ErrMalformedDelta, err.Error())
	}

	clean := strings.TrimSpace(reply[:loc[0]] + reply[loc[1]:])
	if delta.IsNoChange() {
		return form.NoChange, clean, nil
	}
	return delta, clean, nil
}

// ParseDelta decodes a fallback reply. The reply must be a JSON object,
// optionally wrapped in a code fence.
func ParseDelta(answer string) (form.Delta, error) {
	trimmed := strings.TrimSpace(answer)
	if m := fence.FindStringSubmatch(trimmed); m != nil {
		trimmed = m[1]
	}

	var delta form.Delta
	if err := json.Unmarshal([]byte(trimmed), &delta); err != nil {
		return nil, errors.Wrap(ErrMalformedDelta, err.Error())
	}
	if delta.IsNoChange() {
		return form.NoChange, nil
	}
	return delta, nil
}

var manualPhrases = []string{
	"manual mode",
	"stop offering",
	"stop suggesting",
	"stop helping",
	"no more suggestions",
	"fill it in myself",
	"fill it myself",
	"fill in the form myself",
	"do it myself",
}

// IsManualModeRequest reports whether a user utterance asks the assistant to
// stop offering proactive help.
func IsManualModeRequest(utterance string) bool {
	normalized := strings.ToLower(strings.Join(strings.Fields(utterance), " "))
	normalized = strings.NewReplacer("’", "'").Replace(normalized)
	for _, phrase := range manualPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}

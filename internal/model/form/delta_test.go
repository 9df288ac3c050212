package form

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeltaEncode(t *testing.T) {
	data, err := Delta{"flowName": "Alpha"}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"update-form","payload":{"flowName":"Alpha"}}`, string(data))
}

func TestNoChange(t *testing.T) {
	require.True(t, NoChange.IsNoChange())
	require.True(t, Delta{}.IsNoChange())
	require.False(t, Delta{"a": 1}.IsNoChange())
}

func TestParseState(t *testing.T) {
	st, err := ParseState(`{"flowName":"Alpha","schedule":{"freq":"Daily"}}`)
	require.NoError(t, err)
	require.Equal(t, "Alpha", st["flowName"])

	st, err = ParseState("")
	require.NoError(t, err)
	require.Nil(t, st)

	_, err = ParseState(`["not","an","object"]`)
	require.Error(t, err)
}

func TestStateCloneIsIndependent(t *testing.T) {
	st := State{"a": 1}
	cp := st.Clone()
	cp["b"] = 2
	require.NotContains(t, st, "b")
}

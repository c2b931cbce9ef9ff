package protocol

import (
	"encoding/json"
	"testing"

	"github.com/cuemby/council/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	changeSetID := types.NewID()
	nodeID := types.NewID()
	rc := types.ReplyChannel("worker-1")

	tests := []struct {
		name    string
		kind    Kind
		payload any
	}{
		{name: "register", kind: KindRegister, payload: Register{ReplyChannel: rc}},
		{
			name: "graph submit",
			kind: KindGraphSubmit,
			payload: GraphSubmit{
				ReplyChannel: rc,
				ChangeSetID:  changeSetID,
				Graph:        types.Graph{nodeID: {}},
			},
		},
		{
			name: "value processed",
			kind: KindValueProcessed,
			payload: ValueProcessed{
				ReplyChannel: rc,
				ChangeSetID:  changeSetID,
				NodeID:       nodeID,
			},
		},
		{
			name: "cancel",
			kind: KindCancel,
			payload: Cancel{
				ReplyChannel: rc,
				ChangeSetID:  changeSetID,
			},
		},
		{
			name: "process value",
			kind: KindProcessValue,
			payload: ProcessValue{
				ChangeSetID: changeSetID,
				NodeID:      nodeID,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.kind, tt.payload)
			require.NoError(t, err)

			env, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, env.Kind)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestEncode_GraphSubmit_PreservesGraphShape(t *testing.T) {
	changeSetID := types.NewID()
	a := types.NewID()
	b := types.NewID()

	payload := GraphSubmit{
		ReplyChannel: types.ReplyChannel("worker-1"),
		ChangeSetID:  changeSetID,
		Graph:        types.Graph{a: {b}},
	}

	encoded, err := Encode(KindGraphSubmit, payload)
	require.NoError(t, err)

	env, err := Decode(encoded)
	require.NoError(t, err)

	var decoded GraphSubmit
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, payload.Graph, decoded.Graph)
}

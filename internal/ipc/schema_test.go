package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		msgType MessageType
		payload string
		valid   bool
	}{
		{"hello", MsgBridgeHello, `{"name":"winrt","posture":true,"flip":true}`, true},
		{"hello missing flip", MsgBridgeHello, `{"posture":true}`, false},
		{"hello wrong type", MsgBridgeHello, `{"posture":"yes","flip":true}`, false},
		{"posture", MsgPushPosture, `{"panel1_orientation":"rotated_90_ccw","panel2_orientation":"face_up","hinge":"full"}`, true},
		{"posture with ids and time", MsgPushPosture,
			`{"panel1_id":"SDC4179","panel2_id":"SDC417A","panel1_orientation":"not_rotated","panel2_orientation":"not_rotated","hinge":"not_full","timestamp":"2026-10-17T10:00:00Z"}`, true},
		{"posture unknown orientation", MsgPushPosture, `{"panel1_orientation":"sideways","panel2_orientation":"face_up","hinge":"full"}`, false},
		{"posture unknown hinge", MsgPushPosture, `{"panel1_orientation":"face_up","panel2_orientation":"face_up","hinge":"half"}`, false},
		{"posture extra field", MsgPushPosture, `{"panel1_orientation":"face_up","panel2_orientation":"face_up","hinge":"full","angle":180}`, false},
		{"flip", MsgPushFlip, `{"state":"completed"}`, true},
		{"flip unknown state", MsgPushFlip, `{"state":"spinning"}`, false},
		{"not json", MsgPushFlip, `{`, false},
		{"no schema", MsgStatusRequest, `anything`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.msgType, []byte(tt.payload))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

package display

import (
	"testing"

	"github.com/BurntSushi/xgb/randr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func output(name string, current randr.Crtc, possible ...randr.Crtc) outputState {
	return outputState{
		name: name,
		info: &randr.GetOutputInfoReply{Crtc: current, Crtcs: possible},
	}
}

func TestAssignCrtcs(t *testing.T) {
	tests := []struct {
		name  string
		wants []outputState
		used  []randr.Crtc
		want  map[string]randr.Crtc
	}{
		{
			name: "attached output keeps its crtc when a detached one sorts first",
			wants: []outputState{
				output("DSI-1", 0, 1, 2),
				output("DSI-2", 1, 1, 2),
			},
			want: map[string]randr.Crtc{"DSI-1": 2, "DSI-2": 1},
		},
		{
			name: "both attached",
			wants: []outputState{
				output("DSI-1", 2, 1, 2),
				output("DSI-2", 1, 1, 2),
			},
			want: map[string]randr.Crtc{"DSI-1": 2, "DSI-2": 1},
		},
		{
			name: "both detached",
			wants: []outputState{
				output("DSI-1", 0, 1, 2),
				output("DSI-2", 0, 1, 2),
			},
			want: map[string]randr.Crtc{"DSI-1": 1, "DSI-2": 2},
		},
		{
			name:  "crtc held by an untouched output is skipped",
			wants: []outputState{output("DSI-1", 0, 1, 2)},
			used:  []randr.Crtc{1},
			want:  map[string]randr.Crtc{"DSI-1": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used := make(map[randr.Crtc]bool)
			for _, c := range tt.used {
				used[c] = true
			}
			got, err := assignCrtcs(tt.wants, used)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssignCrtcsExhausted(t *testing.T) {
	_, err := assignCrtcs([]outputState{
		output("DSI-1", 0, 1),
		output("DSI-2", 1, 1),
	}, map[randr.Crtc]bool{})
	assert.ErrorContains(t, err, "no free crtc for DSI-1")
}

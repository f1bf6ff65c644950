package queues

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerArrival_WireNames(t *testing.T) {
	raw := `{"guid":"p1","name":"alice","matchmakingSettings":"ranked"}`
	var got PlayerArrival
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	want := PlayerArrival{GUID: "p1", Name: "alice", MatchmakingSettings: "ranked"}
	if got != want {
		t.Errorf("unmarshal mismatch\n got=%#v\nwant=%#v", got, want)
	}
}

func TestSessionReady_WireNames(t *testing.T) {
	msg := SessionReady{Command: CommandSessionReady, GUIDs: []string{"p1", "p2"}, ServerIPandPort: "10.0.0.1:7000"}
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"sessionReady","guids":["p1","p2"],"serverIPandPort":"10.0.0.1:7000"}`, string(b))
}

func TestServerRegistration_WireNames(t *testing.T) {
	raw := `{"command":"addServer","servers":[{"serverguid":"s1","serveripandport":"192.168.1.1:50"}]}`
	var got ServerRegistration
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, CommandAddServer, got.Command)
	assert.Equal(t, []ServerEntry{{ServerGUID: "s1", ServerIPandPort: "192.168.1.1:50"}}, got.Servers)
}

func TestBatchResult_Err(t *testing.T) {
	boom := errors.New("boom")
	msgs := []*Message{{ID: "m0"}, {ID: "m1"}, {ID: "m2"}}

	tests := []struct {
		name      string
		failed    []int
		dropped   []int
		wantNil   bool
		wantMulti bool
		wantCount int
	}{
		{name: "all succeeded", wantNil: true},
		{name: "dropped only", dropped: []int{1}, wantNil: true},
		{name: "single failure", failed: []int{2}, wantCount: 1},
		{name: "aggregate failure", failed: []int{0, 2}, wantMulti: true, wantCount: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewBatchResult(len(msgs))
			for _, i := range tt.dropped {
				r.Drop(i, msgs[i], boom)
			}
			for _, i := range tt.failed {
				r.Fail(i, msgs[i], boom)
			}
			err := r.Err()
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			var merr *multierror.Error
			assert.Equal(t, tt.wantMulti, errors.As(err, &merr))
			if tt.wantMulti {
				assert.Len(t, merr.Errors, tt.wantCount)
			} else {
				var ie *ItemError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, msgs[tt.failed[0]].ID, ie.MessageID)
			}
			for _, i := range tt.failed {
				assert.True(t, r.IsFailed(msgs[i].ID))
			}
		})
	}
}

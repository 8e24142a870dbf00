package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/silentsky/pkg/core"
	"github.com/boristopalov/silentsky/pkg/episode"
	"github.com/boristopalov/silentsky/pkg/messaging"
)

func TestBuildDirective(t *testing.T) {
	d, err := buildDirective(map[string]string{"discovery_value": "2.5"}, "sensor_quality")
	require.NoError(t, err)

	data, err := messaging.EncodeDirective(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reward_weights": {"discovery_value": 2.5}, "upgrade": "sensor_quality"}`, string(data))

	_, err = buildDirective(map[string]string{"discovery_value": "lots"}, "")
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    episode.Format
		wantErr bool
	}{
		{"data/run.json", episode.FormatJSON, false},
		{"data/run.cbor", episode.FormatCBOR, false},
		{"data/run.cbor.zst", episode.FormatCBOR, false},
		{"data/run.pkl", "", true},
		{"data/run", "", true},
	}
	for _, tt := range tests {
		got, err := formatFromPath(tt.path)
		if tt.wantErr {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestReplayCommand(t *testing.T) {
	recorder := episode.NewRecorder(nil)
	recorder.Record(1, core.Action{Sector: 2, ExposureMode: core.ExposureLong}, core.Observation{}, 4.5, core.Info{})
	ep := recorder.Finish(core.State{Timestep: 1, Budget: 950}, core.Money{Earnings: 60, Costs: 50, Profit: 10})

	dir := t.TempDir()
	rec, err := episode.Store{Dir: dir, Compress: true}.Save(ep, episode.FormatCBOR, "replay")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "replay.cbor.zst"), rec.Path)

	cmd := replayCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--steps", rec.Path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "episode "+ep.ID)
	assert.Contains(t, out.String(), "steps:        1")
	assert.Contains(t, out.String(), "LONG")
}

package sched

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	for name, path := range map[string]string{
		"empty path":   "",
		"missing file": filepath.Join(t.TempDir(), "nope.yml"),
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Load(path)
			assert.Equal(t, defaultConfig(), cfg)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
tick_ms: 2
retry_min_ms: 4
retry_max_ms: 3
executors: 0
duration_ms: 500
task_groups:
  - name: HIGH
    count: 2
    base_priority: 0
    priorities: 0
    millis: 10
`), 0o644))

	cfg := Load(path)
	assert.Equal(t, 2*time.Millisecond, cfg.Tick())
	assert.Equal(t, 4*time.Millisecond, cfg.RetryMin())
	assert.Equal(t, 4*time.Millisecond, cfg.RetryMax(), "max is raised to min")
	assert.Equal(t, 1, cfg.Executors)
	assert.Equal(t, 500*time.Millisecond, cfg.Duration())
	require.Len(t, cfg.TaskGroups, 1)
	assert.Equal(t, 1, cfg.TaskGroups[0].Priorities)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		group   TaskGroup
		wantErr bool
	}{
		"in range":        {group: TaskGroup{Name: "a", Count: 1, BasePriority: 30, Priorities: 2}},
		"spread past max": {group: TaskGroup{Name: "b", Count: 1, BasePriority: 30, Priorities: 3}, wantErr: true},
		"negative base":   {group: TaskGroup{Name: "c", Count: 1, BasePriority: -1, Priorities: 1}, wantErr: true},
		"negative count":  {group: TaskGroup{Name: "d", Count: -1, Priorities: 1}, wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := Config{TaskGroups: []TaskGroup{tt.group}}.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

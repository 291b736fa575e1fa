package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

const entityTypes = "../../config/entity_types.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DB_HOST", "")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	base := []string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "--entity-types", entityTypes}
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitUsage, exitCode(withCode(exitUsage, errors.New("bad flag"))))
	assert.Equal(t, exitConfig, exitCode(errs.Config("bad spec")))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Nil(t, withCode(exitDB, nil))
}

func TestRunExit(t *testing.T) {
	assert.NoError(t, runExit(&models.BatchRun{ID: "r1", Status: models.RunStatusCompleted}))
	assert.Equal(t, exitPartial, exitCode(runExit(&models.BatchRun{ID: "r1", Status: models.RunStatusPartial})))

	err := runExit(&models.BatchRun{ID: "r1", Status: models.RunStatusFailed, Error: "target down"})
	assert.Equal(t, exitRunFailed, exitCode(err))
	assert.Contains(t, err.Error(), "target down")
}

func TestPlanCommand(t *testing.T) {
	out, err := execute(t, "plan")
	require.NoError(t, err)

	var plan planOutput
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, [][]string{{"country", "tag"}, {"organization"}, {"person"}, {"lead"}, {"activity"}}, plan.Batches)
	assert.ElementsMatch(t, []string{"country"}, plan.Dependencies["organization"])
	assert.Empty(t, plan.Dependencies["country"])
}

func TestPlanCommandRejectsBadSpecs(t *testing.T) {
	path := writeFile(t, "types.yaml", "entity_types:\n  - name: a\n    policy: nope\n")
	_, err := execute(t, "plan", "--entity-types", path)
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestRunCommandFlags(t *testing.T) {
	_, err := execute(t, "run")
	assert.Equal(t, exitUsage, exitCode(err))

	_, err = execute(t, "run", "--input", "a.jsonl", "--resume-from-quarantine", "r1")
	assert.Equal(t, exitUsage, exitCode(err))

	_, err = execute(t, "run", "--input", "a.jsonl", "--snapshot", "s.json")
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestRunCommandDryRun(t *testing.T) {
	snapshot := writeFile(t, "snapshot.json", `[{"entity_type":"country","id":"233","fields":{"code":"US"}}]`)

	t.Run("completed", func(t *testing.T) {
		input := writeFile(t, "in.jsonl",
			`{"source_system":"crm","source_pk":"c1","entity_type":"country","fields":{"code":" us "}}`+"\n"+
				`{"source_system":"crm","source_pk":"t1","entity_type":"tag","fields":{"name":"VIP"}}`+"\n")

		out, err := execute(t, "run", "--dry-run", "--snapshot", snapshot, "--input", input)
		require.NoError(t, err)

		var view models.RunStatusView
		require.NoError(t, json.Unmarshal([]byte(out), &view))
		assert.Equal(t, models.RunStatusCompleted, view.Status)
		assert.False(t, view.RolledBack)
	})

	t.Run("unknown country is quarantined", func(t *testing.T) {
		input := writeFile(t, "in.jsonl",
			`{"source_system":"crm","source_pk":"c2","entity_type":"country","fields":{"code":"ZZ"}}`+"\n")

		out, err := execute(t, "run", "--dry-run", "--snapshot", snapshot, "--input", input)
		require.Error(t, err)
		assert.Equal(t, exitPartial, exitCode(err))

		var view models.RunStatusView
		require.NoError(t, json.Unmarshal([]byte(out), &view))
		assert.Equal(t, models.RunStatusPartial, view.Status)
	})

	t.Run("malformed input", func(t *testing.T) {
		input := writeFile(t, "in.jsonl", "{not json}\n")
		_, err := execute(t, "run", "--dry-run", "--input", input)
		assert.Equal(t, exitConfig, exitCode(err))
	})
}

func TestDurableCommandsNeedDatabase(t *testing.T) {
	for _, args := range [][]string{
		{"status"},
		{"rollback", "r1", "--yes"},
		{"quarantine", "list"},
		{"migrate"},
	} {
		_, err := execute(t, args...)
		assert.Equal(t, exitConfig, exitCode(err), args)
	}
}

func TestConfirmations(t *testing.T) {
	_, err := execute(t, "rollback", "r1")
	assert.Equal(t, exitUsage, exitCode(err))

	_, err = execute(t, "quarantine", "bulk-resolve", "--action", "skip")
	assert.Equal(t, exitUsage, exitCode(err))

	_, err = execute(t, "quarantine", "resolve", "q1", "--action", "match")
	assert.Equal(t, exitUsage, exitCode(err))
}

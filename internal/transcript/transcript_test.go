package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := newStore(t)
	code := 0
	meta := &Meta{
		Name:      "run_basic-0123456789ab",
		Argv:      []string{"docker", "run", "--rm", "busybox", "echo", "hi"},
		PID:       4242,
		Pattern:   "^hi",
		Policy:    "require-match",
		Success:   true,
		MatchLine: 0,
		ExitCode:  &code,
		StartedAt: time.Now().Add(-time.Second).Truncate(time.Millisecond),
	}
	meta.FinishedAt = meta.StartedAt.Add(time.Second)

	err := s.Save(meta, map[string][]string{
		"stdout": {"hi\n"},
		"stderr": nil,
	})
	require.NoError(t, err)

	got, err := s.LoadMeta(meta.Name)
	require.NoError(t, err)
	assert.Equal(t, meta.Argv, got.Argv)
	assert.Equal(t, []string{"stderr", "stdout"}, got.Streams)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.True(t, got.StartedAt.Equal(meta.StartedAt))

	out, err := s.ReadStream(meta.Name, "stdout")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(out))

	errOut, err := s.ReadStream(meta.Name, "stderr")
	require.NoError(t, err)
	assert.Empty(t, errOut)
}

func TestSave_Replaces(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Save(&Meta{Name: "step"}, map[string][]string{"stdout": {"a\n", "b\n"}}))
	require.NoError(t, s.Save(&Meta{Name: "step", Error: "boom"}, map[string][]string{"stdout": {"c\n"}}))

	meta, err := s.LoadMeta("step")
	require.NoError(t, err)
	assert.Equal(t, "boom", meta.Error)

	out, err := s.ReadStream("step", "stdout")
	require.NoError(t, err)
	assert.Equal(t, "c\n", string(out))
}

func TestSave_DropsStreamsMissingFromReplacement(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Save(&Meta{Name: "step", TTY: true}, map[string][]string{"pty": {"prompt\n"}}))
	require.NoError(t, s.Save(&Meta{Name: "step"}, map[string][]string{"stdout": {"a\n"}, "stderr": nil}))

	_, err := os.Stat(filepath.Join(s.dir, "step.pty"))
	assert.True(t, os.IsNotExist(err), "old pty output must be removed")

	meta, err := s.LoadMeta("step")
	require.NoError(t, err)
	assert.Equal(t, []string{"stderr", "stdout"}, meta.Streams)

	require.NoError(t, s.Delete("step"))
	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInvalidNames(t *testing.T) {
	s := newStore(t)

	for _, name := range []string{"../x", "a/b", "..", ".hidden", "a..b"} {
		assert.Error(t, s.Save(&Meta{Name: name}, nil), name)
		_, err := s.LoadMeta(name)
		assert.ErrorContains(t, err, "invalid transcript name", name)
		_, err = s.ReadStream(name, "stdout")
		assert.Error(t, err, name)
		assert.Error(t, s.Delete(name), name)
	}

	_, err := s.ReadStream("step", "../meta")
	assert.ErrorContains(t, err, "invalid stream name")
}

func TestDelete_ToleratesMissingStream(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(&Meta{Name: "step"}, map[string][]string{"stdout": {"x\n"}}))
	require.NoError(t, os.Remove(filepath.Join(s.dir, "step.stdout")))

	require.NoError(t, s.Delete("step"))
	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSave_Invalid(t *testing.T) {
	s := newStore(t)

	assert.Error(t, s.Save(&Meta{}, nil))
	assert.Error(t, s.Save(&Meta{Name: "x"}, map[string][]string{"../etc": nil}))
}

func TestListAndDelete(t *testing.T) {
	s := newStore(t)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Save(&Meta{Name: "b"}, map[string][]string{"pty": {"x\n"}}))
	require.NoError(t, s.Save(&Meta{Name: "a"}, nil))

	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, s.Delete("b"))
	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	out, err := s.ReadStream("b", "pty")
	require.NoError(t, err)
	assert.Empty(t, out)

	assert.Error(t, s.Delete("missing"))
	_, err = s.LoadMeta("missing")
	assert.ErrorContains(t, err, "not found")
}

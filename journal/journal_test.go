package journal

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	tempFile, err := os.CreateTemp(t.TempDir(), "journal_*.db")
	require.NoError(t, err)
	require.NoError(t, tempFile.Close())

	j, err := Open(tempFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := newTestJournal(t)

	j.Record("conn-1", "tools/call", time.Now(), 12*time.Millisecond, nil)
	j.Record("conn-1", "tools/list", time.Now(), 3*time.Millisecond, fmt.Errorf("boom"))

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "tools/list", entries[0].Method)
	assert.Equal(t, "boom", entries[0].ErrorMessage)
	assert.Equal(t, int64(3), entries[0].ElapsedMS)

	assert.Equal(t, "tools/call", entries[1].Method)
	assert.Empty(t, entries[1].ErrorMessage)
}

func TestRecentHonorsLimit(t *testing.T) {
	j := newTestJournal(t)
	for i := 0; i < 5; i++ {
		j.Record("conn-1", "ping", time.Now(), time.Millisecond, nil)
	}

	entries, err := j.Recent(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestErrorRate(t *testing.T) {
	j := newTestJournal(t)
	j.Record("conn-1", "ping", time.Now(), time.Millisecond, nil)
	j.Record("conn-1", "ping", time.Now(), time.Millisecond, fmt.Errorf("fail"))
	j.Record("conn-1", "ping", time.Now(), time.Millisecond, fmt.Errorf("fail"))
	j.Record("conn-1", "ping", time.Now(), time.Millisecond, nil)

	rate, err := j.ErrorRate(4)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rate)
}

func TestErrorRateWithNoEntries(t *testing.T) {
	j := newTestJournal(t)
	rate, err := j.ErrorRate(10)
	require.NoError(t, err)
	assert.Equal(t, float64(0), rate)
}

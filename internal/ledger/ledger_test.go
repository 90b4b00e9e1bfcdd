package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKey(t *testing.T) {
	makassar, err := time.LoadLocation("Asia/Makassar")
	require.NoError(t, err)

	// 17:30 UTC is already the next day in UTC+8.
	ts := time.Date(2025, 3, 4, 17, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-05", DayKey(ts, makassar))
	assert.Equal(t, "2025-03-04", DayKey(ts, time.UTC))
}

func TestSnapshotDates(t *testing.T) {
	snap := Snapshot{"2025-01-02": nil, "2024-12-31": nil, "2025-01-10": nil}
	assert.Equal(t, []string{"2025-01-10", "2025-01-02", "2024-12-31"}, snap.Dates())
}

func TestRecordJSONShape(t *testing.T) {
	rec := newRecord("A", MethodCommand)
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "A", fields["who"])
	assert.Equal(t, "command", fields["method"])
	assert.Nil(t, fields["latitude"])
	assert.Nil(t, fields["longitude"])
	assert.Nil(t, fields["distance"])
	assert.Contains(t, fields, "time")
}

func TestDecodeSnapshotRejectsUnknownMethod(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"2025-03-04":[{"who":"A","method":"fax"}]}`))
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestRecordName(t *testing.T) {
	assert.Equal(t, "Budi", Record{Identity: "id-1", DisplayName: "Budi"}.Name())
	assert.Equal(t, "id-1", Record{Identity: "id-1"}.Name())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Append(ctx, "2025-03-04", newRecord("A", MethodCommand)))
	require.NoError(t, m.Append(ctx, "2025-03-04", newRecord("B", MethodWeb)))

	day, err := m.QueryDay(ctx, "2025-03-04")
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "A", day[0].Identity)
	assert.Equal(t, "B", day[1].Identity)

	empty, err := m.QueryDay(ctx, "2025-03-05")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatcache/internal/models"
)

func msg(id, room, user, content string, ts int64) *models.Message {
	return &models.Message{
		ID:        id,
		RoomID:    room,
		UserID:    user,
		Content:   content,
		CreatedAt: ts,
	}
}

func TestIsDuplicateByID(t *testing.T) {
	d := New()
	d.AddFingerprint(msg("01A", "general", "u1", "hello", 1000))

	assert.True(t, d.IsDuplicate(msg("01A", "general", "u1", "hello", 1000)))
	assert.False(t, d.IsDuplicate(msg("01B", "general", "u1", "something else", 1000)))
}

func TestIsDuplicateNearWindow(t *testing.T) {
	d := New()
	d.AddFingerprint(msg("01A", "general", "u1", "hello", 10000))

	// Same content from the same sender 2s later under a fresh id: this is an
	// optimistic send racing its server echo.
	assert.True(t, d.IsDuplicate(msg("01B", "general", "u1", "hello", 12000)))

	// 6s later it is a legitimate resend.
	assert.False(t, d.IsDuplicate(msg("01C", "general", "u1", "hello", 16000)))

	// Same content but different sender or room never matches.
	assert.False(t, d.IsDuplicate(msg("01D", "general", "u2", "hello", 12000)))
	assert.False(t, d.IsDuplicate(msg("01E", "random", "u1", "hello", 12000)))
}

func TestAddFingerprintIdempotent(t *testing.T) {
	d := New()
	m := msg("01A", "general", "u1", "hello", 1000)
	d.AddFingerprint(m)
	d.AddFingerprint(m)

	assert.Equal(t, 1, d.FingerprintCount("general"))
}

func TestRemoveFingerprint(t *testing.T) {
	d := New()
	m := msg("01A", "general", "u1", "hello", 10000)
	d.AddFingerprint(m)
	d.RemoveFingerprint("01A")

	assert.Equal(t, 0, d.FingerprintCount("general"))
	assert.False(t, d.IsDuplicate(msg("01B", "general", "u1", "hello", 11000)))
}

func TestFingerprintCapEvictsOldest(t *testing.T) {
	d := New()
	for i := 0; i <= maxFingerprintsPerRoom; i++ {
		d.AddFingerprint(msg(fmt.Sprintf("id-%04d", i), "general", "u1", fmt.Sprintf("msg %d", i), int64(i)))
	}

	assert.Equal(t, maxFingerprintsPerRoom, d.FingerprintCount("general"))

	// The oldest fingerprint is gone, so its id no longer reads as seen.
	assert.False(t, d.IsDuplicate(msg("id-0000", "general", "u1", "msg 0", 0)))
	assert.True(t, d.IsDuplicate(msg(fmt.Sprintf("id-%04d", maxFingerprintsPerRoom), "general", "u1", "x", 0)))
}

func TestDeduplicateMessagesBatch(t *testing.T) {
	a := msg("01A", "general", "u1", "hello", 1000)
	echo := msg("01B", "general", "u1", "hello", 2500)  // same send, echoed id
	later := msg("01C", "general", "u1", "hello", 9000) // distinct send, but same content hash
	other := msg("01D", "general", "u2", "hello", 1000) // different sender
	repeat := msg("01A", "general", "u1", "hello", 1000)

	out := New().DeduplicateMessages([]*models.Message{a, echo, later, other, repeat})

	ids := make([]string, 0, len(out))
	for _, m := range out {
		ids = append(ids, m.ID)
	}
	// Earliest creation survives per content hash; the batch pass has no
	// window, content collisions collapse outright.
	assert.Equal(t, []string{"01A", "01D"}, ids)
}

func TestDeduplicateMessagesEarliestWins(t *testing.T) {
	newer := msg("01B", "general", "u1", "hello", 3000)
	older := msg("01A", "general", "u1", "hello", 1000)

	out := New().DeduplicateMessages([]*models.Message{newer, older})
	require.Len(t, out, 1)
	assert.Equal(t, "01A", out[0].ID)
}

func TestClearDropsEverything(t *testing.T) {
	d := New()
	d.AddFingerprint(msg("01A", "general", "u1", "hello", 1000))
	d.QueueDelta("general", CreateDelta(models.DeltaDelete, msg("01A", "general", "u1", "hello", 1000), nil))

	d.Clear()

	assert.Equal(t, 0, d.FingerprintCount("general"))
	assert.Empty(t, d.PendingDeltas("general"))
}

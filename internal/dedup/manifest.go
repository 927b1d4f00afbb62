package dedup

import (
	"time"

	"github.com/eldtechnologies/chatcache/internal/models"
)

// Full resync thresholds: past either, patching id-by-id costs more than
// refetching the room.
const (
	fullSyncChangeRatio = 0.3
	fullSyncCountGap    = 100
)

// ManifestDiff is the outcome of comparing a local and a remote manifest.
type ManifestDiff struct {
	MissingMessages []string `json:"missing"` // remote only
	ExtraMessages   []string `json:"extra"`   // local only
	ChangedMessages []string `json:"changed"` // same id, different content hash
	NeedsFullSync   bool     `json:"needs_full_sync"`
}

// GenerateManifest snapshots a room's message set: fingerprints in list
// order, count and latest id. Message content is never copied in.
func GenerateManifest(roomID string, msgs []*models.Message) models.SyncManifest {
	manifest := models.SyncManifest{
		RoomID:       roomID,
		LastSync:     time.Now().UnixMilli(),
		MessageCount: len(msgs),
		Fingerprints: make([]models.Fingerprint, 0, len(msgs)),
	}
	var latest int64 = -1
	for _, m := range msgs {
		if m == nil {
			continue
		}
		manifest.Fingerprints = append(manifest.Fingerprints, Fingerprint(m))
		if m.CreatedAt > latest {
			latest = m.CreatedAt
			manifest.LatestID = m.ID
		}
	}
	return manifest
}

// CompareManifests diffs two manifests and decides between incremental and
// full resync.
func CompareManifests(local, remote models.SyncManifest) ManifestDiff {
	localByID := make(map[string]string, len(local.Fingerprints))
	for _, fp := range local.Fingerprints {
		localByID[fp.MessageID] = fp.ContentHash
	}
	remoteByID := make(map[string]string, len(remote.Fingerprints))
	for _, fp := range remote.Fingerprints {
		remoteByID[fp.MessageID] = fp.ContentHash
	}

	var diff ManifestDiff
	for _, fp := range remote.Fingerprints {
		localHash, ok := localByID[fp.MessageID]
		switch {
		case !ok:
			diff.MissingMessages = append(diff.MissingMessages, fp.MessageID)
		case localHash != fp.ContentHash:
			diff.ChangedMessages = append(diff.ChangedMessages, fp.MessageID)
		}
	}
	for _, fp := range local.Fingerprints {
		if _, ok := remoteByID[fp.MessageID]; !ok {
			diff.ExtraMessages = append(diff.ExtraMessages, fp.MessageID)
		}
	}

	larger := local.MessageCount
	if remote.MessageCount > larger {
		larger = remote.MessageCount
	}
	if larger < 1 {
		larger = 1
	}
	changes := len(diff.MissingMessages) + len(diff.ExtraMessages) + len(diff.ChangedMessages)
	ratio := float64(changes) / float64(larger)

	gap := local.MessageCount - remote.MessageCount
	if gap < 0 {
		gap = -gap
	}
	diff.NeedsFullSync = ratio > fullSyncChangeRatio || gap > fullSyncCountGap
	return diff
}

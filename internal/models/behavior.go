package models

// BehaviorPattern is derived usage state feeding preload prediction.
// It is recomputed opportunistically and safe to discard at any time.
type BehaviorPattern struct {
	VisitCounts    map[string]int `json:"visit_counts"`              // room id -> visits
	ReadingSpeed   float64        `json:"reading_speed"`             // messages per minute, EWMA
	ActiveHours    map[int]bool   `json:"active_hours"`              // hour of day -> seen active
	PreferredRooms []string       `json:"preferred_rooms,omitempty"` // top-N by visit count
	LastActive     int64          `json:"last_active"`               // Unix ms
}

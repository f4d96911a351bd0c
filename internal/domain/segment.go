package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// SegmentID is one of S1..S10, S1 being the most valuable tier
type SegmentID string

const (
	SegmentCount            = 10
	LowestSegment SegmentID = "S10"
)

// Rank returns the tier number (1 for S1) or 0 if the id is malformed
func (s SegmentID) Rank() int {
	if !strings.HasPrefix(string(s), "S") {
		return 0
	}
	n, err := strconv.Atoi(string(s)[1:])
	if err != nil || n < 1 || n > SegmentCount {
		return 0
	}
	return n
}

// ParseSegmentID validates a segment id string
func ParseSegmentID(v string) (SegmentID, error) {
	id := SegmentID(strings.ToUpper(strings.TrimSpace(v)))
	if id.Rank() == 0 {
		return "", fmt.Errorf("invalid segment id %q", v)
	}
	return id, nil
}

// Segment is a classification rule: amount >= MinAmount and days since the last
// payment <= MaxRecencyDays. A negative MaxRecencyDays means no recency limit.
type Segment struct {
	ID             SegmentID `json:"id"`
	MinAmount      int64     `json:"min_amount"`
	MaxRecencyDays int       `json:"max_recency_days"`
	Label          string    `json:"label,omitempty"`
}

package model

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/attempt"
)

// ExamTree is the immutable exam configuration plus its ordered sections,
// cached in Redis under config.CacheKey.ExamTreeKey.
type ExamTree struct {
	ExamID   uuid.UUID         `json:"exam_id"`
	Exam     attempt.ExamInfo  `json:"exam"`
	Sections []attempt.Section `json:"sections"`
}

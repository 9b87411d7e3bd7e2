package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the key holding a student's login JTI.
// It is written by the login service.
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// ExamTreeKey returns the cache key for an exam's section/question tree
func (r *CacheKeyStruct) ExamTreeKey(examID string) string {
	return fmt.Sprintf("exam:%s:tree", examID)
}

// AttemptSnapshotKey returns the cache key for the latest autosaved snapshot of an attempt
func (r *CacheKeyStruct) AttemptSnapshotKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:snapshot", attemptID)
}

// AttemptSubmittedKey marks an attempt whose submission is queued but not yet persisted
func (r *CacheKeyStruct) AttemptSubmittedKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:submitted", attemptID)
}

var CacheKey = NewCacheKeyStruct()

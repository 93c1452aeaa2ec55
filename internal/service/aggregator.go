package service

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// Performance buckets, lowest bound inclusive
const (
	BucketGettingStarted = "getting_started"
	BucketOutstanding    = "outstanding"
	BucketExcellent      = "excellent"
	BucketOnTrack        = "on_track"
	BucketKeepGoing      = "keep_going"
)

var motivationalMessages = map[string]string{
	BucketGettingStarted: "Every expert was once a beginner. Submit your first assignment and start your journey!",
	BucketOutstanding:    "Outstanding work! You're at the top of your game. Keep inspiring others!",
	BucketExcellent:      "Excellent progress! You're mastering the material. Keep pushing forward!",
	BucketOnTrack:        "You're on track! Consistency is key, keep up the good work.",
	BucketKeepGoing:      "Keep going! Every assignment is a step forward. Review the feedback and try again.",
}

// Aggregator serves derived views over enrollments and graded submissions
type Aggregator struct {
	store    AggregatorStore
	cache    LeaderboardCache
	cacheTTL time.Duration
	notifier Notifier
	logger   *zap.Logger
}

// NewAggregator creates a new aggregator. cache may be nil to disable leaderboard caching.
func NewAggregator(store AggregatorStore, cache LeaderboardCache, cacheTTL time.Duration, notifier Notifier) *Aggregator {
	return &Aggregator{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// StudentPerformance summarises a student's submissions and enrollments
func (a *Aggregator) StudentPerformance(ctx context.Context, studentID int64) (*models.StudentPerformance, error) {
	ctx, span := util.StartSpan(ctx, "Aggregator.StudentPerformance")
	defer span.End()

	submissions, err := a.store.ListStudentSubmissions(ctx, studentID)
	if err != nil {
		return nil, err
	}
	enrollments, avgProgress, err := a.store.StudentEnrollmentSummary(ctx, studentID)
	if err != nil {
		return nil, err
	}

	perf := summarizeSubmissions(studentID, submissions)
	perf.Enrollments = enrollments
	perf.AverageProgress = round2(avgProgress)
	return perf, nil
}

func summarizeSubmissions(studentID int64, submissions []models.Submission) *models.StudentPerformance {
	perf := &models.StudentPerformance{
		StudentID:        studentID,
		TotalSubmissions: len(submissions),
		Submissions:      submissions,
	}

	graded, possible := 0, 0
	for _, sub := range submissions {
		switch sub.Status {
		case models.SubmissionStatusPending:
			perf.StatusCounts.Pending++
		case models.SubmissionStatusReviewed:
			perf.StatusCounts.Reviewed++
		case models.SubmissionStatusApproved:
			perf.StatusCounts.Approved++
		case models.SubmissionStatusRejected:
			perf.StatusCounts.Rejected++
		}
		if sub.Marks != nil {
			graded++
			perf.TotalMarks += *sub.Marks
			possible += sub.TotalMarks
		}
	}

	if graded > 0 {
		perf.AverageMarks = round2(float64(perf.TotalMarks) / float64(graded))
	}
	if possible > 0 {
		perf.ScorePercentage = round2(float64(perf.TotalMarks) / float64(possible) * 100)
	}
	return perf
}

// CourseLeaderboard ranks a course's active and completed students
func (a *Aggregator) CourseLeaderboard(ctx context.Context, courseID int64) ([]models.LeaderboardEntry, error) {
	ctx, span := util.StartSpan(ctx, "Aggregator.CourseLeaderboard")
	defer span.End()

	if entries, ok := a.cachedLeaderboard(ctx, courseID); ok {
		return entries, nil
	}

	stats, err := a.store.CourseSubmissionStats(ctx, courseID)
	if err != nil {
		return nil, err
	}
	entries := RankLeaderboard(stats)

	if a.cache != nil {
		if payload, err := json.Marshal(entries); err == nil {
			if err := a.cache.SetLeaderboard(ctx, courseID, payload, a.cacheTTL); err != nil {
				a.logger.Warn("Failed to cache leaderboard", zap.Int64("course_id", courseID), zap.Error(err))
			}
		}
	}
	return entries, nil
}

func (a *Aggregator) cachedLeaderboard(ctx context.Context, courseID int64) ([]models.LeaderboardEntry, bool) {
	if a.cache == nil {
		return nil, false
	}
	payload, ok, err := a.cache.GetLeaderboard(ctx, courseID)
	if err != nil {
		a.logger.Warn("Leaderboard cache unavailable", zap.Int64("course_id", courseID), zap.Error(err))
		return nil, false
	}
	if !ok {
		util.LeaderboardCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	var entries []models.LeaderboardEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		a.logger.Warn("Discarding corrupt leaderboard cache entry", zap.Int64("course_id", courseID), zap.Error(err))
		return nil, false
	}
	util.LeaderboardCacheTotal.WithLabelValues("hit").Inc()
	return entries, true
}

// RankLeaderboard orders by total marks, then submission count, both
// descending, then student id ascending. Ranks are positions 1..n.
func RankLeaderboard(stats []models.SubmissionStats) []models.LeaderboardEntry {
	sorted := make([]models.SubmissionStats, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TotalMarks != b.TotalMarks {
			return a.TotalMarks > b.TotalMarks
		}
		if a.SubmissionCount != b.SubmissionCount {
			return a.SubmissionCount > b.SubmissionCount
		}
		return a.StudentID < b.StudentID
	})

	entries := make([]models.LeaderboardEntry, 0, len(sorted))
	for i, st := range sorted {
		avg := 0.0
		if st.SubmissionCount > 0 {
			avg = round2(float64(st.TotalMarks) / float64(st.SubmissionCount))
		}
		entries = append(entries, models.LeaderboardEntry{
			Rank:            i + 1,
			StudentID:       st.StudentID,
			StudentName:     st.StudentName,
			TotalMarks:      st.TotalMarks,
			SubmissionCount: st.SubmissionCount,
			AverageMarks:    avg,
			Progress:        st.Progress,
		})
	}
	return entries
}

// AssignmentMarks lists every enrolled student's marks per assignment of a course
func (a *Aggregator) AssignmentMarks(ctx context.Context, courseID int64) ([]models.AssignmentMark, error) {
	ctx, span := util.StartSpan(ctx, "Aggregator.AssignmentMarks")
	defer span.End()

	return a.store.AssignmentMarks(ctx, courseID, nil)
}

// StudentAssignmentMarks lists one student's marks per assignment of a course
func (a *Aggregator) StudentAssignmentMarks(ctx context.Context, courseID, studentID int64) ([]models.AssignmentMark, error) {
	ctx, span := util.StartSpan(ctx, "Aggregator.StudentAssignmentMarks")
	defer span.End()

	return a.store.AssignmentMarks(ctx, courseID, &studentID)
}

// MotivationalMessage picks the message for a student's current performance
func (a *Aggregator) MotivationalMessage(ctx context.Context, studentID int64) (*models.MotivationalMessage, error) {
	ctx, span := util.StartSpan(ctx, "Aggregator.MotivationalMessage")
	defer span.End()

	submissions, err := a.store.ListStudentSubmissions(ctx, studentID)
	if err != nil {
		return nil, err
	}
	perf := summarizeSubmissions(studentID, submissions)
	msg := SelectMotivationalMessage(perf.ScorePercentage, perf.TotalSubmissions)
	return &msg, nil
}

// SelectMotivationalMessage maps a score percentage to its bucket. Lower bounds are inclusive.
func SelectMotivationalMessage(score float64, submissions int) models.MotivationalMessage {
	var bucket string
	switch {
	case submissions == 0:
		bucket = BucketGettingStarted
	case score >= 90:
		bucket = BucketOutstanding
	case score >= 75:
		bucket = BucketExcellent
	case score >= 50:
		bucket = BucketOnTrack
	default:
		bucket = BucketKeepGoing
	}
	return models.MotivationalMessage{
		Bucket:          bucket,
		Message:         motivationalMessages[bucket],
		ScorePercentage: score,
	}
}

// ReviewSubmission grades a submission, notifies the student and drops the course leaderboard cache
func (a *Aggregator) ReviewSubmission(ctx context.Context, r models.SubmissionReview) (*models.Submission, error) {
	ctx, span := util.StartSpan(ctx, "Aggregator.ReviewSubmission")
	defer span.End()

	switch r.Status {
	case models.SubmissionStatusReviewed, models.SubmissionStatusApproved, models.SubmissionStatusRejected:
	default:
		return nil, apperr.Validation("review status must be reviewed, approved or rejected")
	}

	current, err := a.store.GetSubmission(ctx, r.SubmissionID)
	if err != nil {
		return nil, err
	}
	if r.Marks < 0 || r.Marks > current.TotalMarks {
		return nil, apperr.Validation("marks must be between 0 and %d", current.TotalMarks)
	}

	sub, err := a.store.ReviewSubmission(ctx, r)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if err := a.cache.InvalidateLeaderboard(ctx, sub.CourseID); err != nil {
			a.logger.Warn("Failed to invalidate leaderboard cache", zap.Int64("course_id", sub.CourseID), zap.Error(err))
		}
	}
	if _, err := a.notifier.Notify(ctx, assignmentFeedbackNotice(sub)); err != nil {
		a.logger.Error("Failed to create assignment feedback notification",
			zap.Int64("submission_id", sub.ID),
			zap.Error(err))
	}
	return sub, nil
}

// FlushLeaderboards drops every cached leaderboard
func (a *Aggregator) FlushLeaderboards(ctx context.Context) (int64, error) {
	ctx, span := util.StartSpan(ctx, "Aggregator.FlushLeaderboards")
	defer span.End()

	if a.cache == nil {
		return 0, nil
	}
	return a.cache.FlushLeaderboards(ctx)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

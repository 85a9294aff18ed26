package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.SubmissionTypeConfig{},
		&models.Assignment{},
		&models.RubricCategory{},
		&models.AssignmentEvaluationSettings{},
		&models.Draft{},
		&models.ModelRun{},
		&models.CategoryScore{},
		&models.FeedbackItem{},
		&models.AggregatedFeedback{},
	))
	return db
}

func seedAssignment(t *testing.T, db *gorm.DB, maxDrafts int) models.Assignment {
	t.Helper()
	assignment := models.Assignment{
		Title:          "Persuasive essay",
		SubmissionType: "essay",
		MaxDrafts:      maxDrafts,
		Rubric: []models.RubricCategory{
			{Name: "Structure", Weight: 40, Position: 2},
			{Name: "Content", Weight: 60, Position: 1},
		},
		Settings: models.AssignmentEvaluationSettings{Models: "gpt-4o-mini", NumRuns: 3, AggregationMethod: models.AggregationMean},
	}
	require.NoError(t, NewAssignmentRepository(db).Create(context.Background(), &assignment))
	return assignment
}

func TestAssignmentRepositoryPreloadsRubricInOrder(t *testing.T) {
	db := openTestDB(t)
	assignment := seedAssignment(t, db, 2)

	loaded, err := NewAssignmentRepository(db).GetWithRubric(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Rubric, 2)
	require.Equal(t, "Content", loaded.Rubric[0].Name)
	require.Equal(t, 3, loaded.Settings.NumRuns)
	require.False(t, loaded.Settings.RequireReview)
}

func TestDraftRepositoryEnforcesMaxDrafts(t *testing.T) {
	db := openTestDB(t)
	assignment := seedAssignment(t, db, 2)
	repo := NewDraftRepository(db)
	ctx := context.Background()

	for want := 1; want <= 2; want++ {
		draft := models.Draft{AssignmentID: assignment.ID, StudentID: 9, SubmissionType: "essay", Content: "text", Status: models.DraftStatusSubmitted, SubmittedAt: time.Now()}
		require.NoError(t, repo.CreateVersioned(ctx, &draft, assignment.MaxDrafts))
		require.Equal(t, want, draft.Version)
	}

	third := models.Draft{AssignmentID: assignment.ID, StudentID: 9, SubmissionType: "essay", Content: "text", Status: models.DraftStatusSubmitted, SubmittedAt: time.Now()}
	require.ErrorIs(t, repo.CreateVersioned(ctx, &third, assignment.MaxDrafts), ErrDraftLimitReached)

	var count int64
	require.NoError(t, db.Model(&models.Draft{}).Where("student_id = ?", 9).Count(&count).Error)
	require.Equal(t, int64(2), count)

	other := models.Draft{AssignmentID: assignment.ID, StudentID: 10, SubmissionType: "essay", Content: "text", Status: models.DraftStatusSubmitted, SubmittedAt: time.Now()}
	require.NoError(t, repo.CreateVersioned(ctx, &other, assignment.MaxDrafts))
	require.Equal(t, 1, other.Version)
}

func TestDraftRepositoryTransitionIsCompareAndSet(t *testing.T) {
	db := openTestDB(t)
	assignment := seedAssignment(t, db, 1)
	repo := NewDraftRepository(db)
	ctx := context.Background()

	draft := models.Draft{AssignmentID: assignment.ID, StudentID: 1, SubmissionType: "essay", Content: "text", Status: models.DraftStatusSubmitted, SubmittedAt: time.Now()}
	require.NoError(t, repo.CreateVersioned(ctx, &draft, 1))

	moved, err := repo.TransitionStatus(ctx, draft.ID, models.DraftStatusSubmitted, models.DraftStatusProcessing)
	require.NoError(t, err)
	require.True(t, moved)

	moved, err = repo.TransitionStatus(ctx, draft.ID, models.DraftStatusSubmitted, models.DraftStatusProcessing)
	require.NoError(t, err)
	require.False(t, moved)

	score := 81.5
	moved, err = repo.Finalize(ctx, draft.ID, models.DraftStatusProcessing, models.DraftStatusFeedbackReady, DraftOutcome{OverallScore: &score})
	require.NoError(t, err)
	require.True(t, moved)

	loaded, err := repo.GetByID(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, models.DraftStatusFeedbackReady, loaded.Status)
	require.NotNil(t, loaded.OverallScore)
	require.InDelta(t, 81.5, *loaded.OverallScore, 1e-9)
}

func TestDraftRepositoryEraseOnlyReleasedOnce(t *testing.T) {
	db := openTestDB(t)
	assignment := seedAssignment(t, db, 1)
	repo := NewDraftRepository(db)
	ctx := context.Background()

	draft := models.Draft{AssignmentID: assignment.ID, StudentID: 1, SubmissionType: "essay", Content: "secret", WordCount: 1, Status: models.DraftStatusUnderReview, SubmittedAt: time.Now()}
	require.NoError(t, repo.CreateVersioned(ctx, &draft, 1))

	erased, err := repo.EraseContent(ctx, draft.ID, models.ErasedContentPlaceholder, datatypes.JSONMap{}, time.Now())
	require.NoError(t, err)
	require.False(t, erased)

	_, err = repo.TransitionStatus(ctx, draft.ID, models.DraftStatusUnderReview, models.DraftStatusReleased)
	require.NoError(t, err)

	erased, err = repo.EraseContent(ctx, draft.ID, models.ErasedContentPlaceholder, datatypes.JSONMap{"language": "en"}, time.Now())
	require.NoError(t, err)
	require.True(t, erased)

	erased, err = repo.EraseContent(ctx, draft.ID, "other", datatypes.JSONMap{}, time.Now())
	require.NoError(t, err)
	require.False(t, erased)

	loaded, err := repo.GetByID(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, models.ErasedContentPlaceholder, loaded.Content)
	require.Equal(t, 1, loaded.WordCount)
	require.True(t, loaded.IsErased())
	require.Equal(t, "en", loaded.Metadata["language"])
}

func TestModelRunRepositoryLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewModelRunRepository(db)
	ctx := context.Background()

	batch, err := repo.LatestBatch(ctx, 5)
	require.NoError(t, err)
	require.Zero(t, batch)

	runs := []models.ModelRun{
		{DraftID: 5, Batch: 1, RunNumber: 1, RunKey: "k1", ModelID: "m", Status: models.ModelRunStatusPending},
		{DraftID: 5, Batch: 1, RunNumber: 2, RunKey: "k2", ModelID: "m", Status: models.ModelRunStatusPending},
	}
	require.NoError(t, repo.CreateBatch(ctx, runs))

	batch, err = repo.LatestBatch(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, batch)

	stored, err := repo.ListBatch(ctx, 5, 1)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	started, err := repo.MarkRunning(ctx, stored[0].ID, time.Now())
	require.NoError(t, err)
	require.True(t, started)

	finished, err := repo.Finish(ctx, stored[0].ID, RunResult{Status: models.ModelRunStatusComplete, RawResponse: "{}", ExecutionTimeMs: 12, CompletedAt: time.Now()})
	require.NoError(t, err)
	require.True(t, finished)

	// terminal runs are immutable
	finished, err = repo.Finish(ctx, stored[0].ID, RunResult{Status: models.ModelRunStatusError, ErrorMessage: "late", CompletedAt: time.Now()})
	require.NoError(t, err)
	require.False(t, finished)

	abandoned, err := repo.AbandonUnfinished(ctx, 5, 1, "abandoned", time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), abandoned)

	stored, err = repo.ListBatch(ctx, 5, 1)
	require.NoError(t, err)
	require.Equal(t, models.ModelRunStatusComplete, stored[0].Status)
	require.Equal(t, models.ModelRunStatusError, stored[1].Status)
	require.Equal(t, "abandoned", stored[1].ErrorMessage)
}

func TestFeedbackRepositoryResultsAndApproval(t *testing.T) {
	db := openTestDB(t)
	assignment := seedAssignment(t, db, 1)
	repo := NewFeedbackRepository(db)
	ctx := context.Background()

	run := models.ModelRun{DraftID: 1, Batch: 1, RunNumber: 1, RunKey: "run-1", ModelID: "m", Status: models.ModelRunStatusComplete}
	require.NoError(t, db.Create(&run).Error)

	overall := 77.0
	scores := []models.CategoryScore{{RubricCategoryID: assignment.Rubric[0].ID, Score: 70, Confidence: 0}}
	items := []models.FeedbackItem{{RubricCategoryID: assignment.Rubric[0].ID, Kind: models.FeedbackKindStrength, Text: "Clear"}}
	require.NoError(t, repo.SaveRunResults(ctx, run.ID, &overall, scores, items))
	require.NoError(t, repo.SaveRunResults(ctx, run.ID, &overall, []models.CategoryScore{{RubricCategoryID: assignment.Rubric[0].ID, Score: 10}}, nil))

	storedScores, err := repo.ListScores(ctx, []uint{run.ID})
	require.NoError(t, err)
	require.Len(t, storedScores, 1)
	require.Zero(t, storedScores[0].Confidence)

	storedItems, err := repo.ListItems(ctx, []uint{run.ID})
	require.NoError(t, err)
	require.Len(t, storedItems, 1)

	var reloaded models.ModelRun
	require.NoError(t, db.First(&reloaded, run.ID).Error)
	require.NotNil(t, reloaded.OverallScore)

	rows := []models.AggregatedFeedback{
		{DraftID: 1, RubricCategoryID: assignment.Rubric[0].ID, AggregatedScore: 70, SampleCount: 1, Method: models.AggregationMean, Status: models.FeedbackStatusPendingReview},
		{DraftID: 1, RubricCategoryID: assignment.Rubric[1].ID, AggregatedScore: 60, SampleCount: 1, Method: models.AggregationMean, Status: models.FeedbackStatusPendingReview},
	}
	require.NoError(t, repo.CreateAggregated(ctx, rows))
	require.NoError(t, repo.CreateAggregated(ctx, []models.AggregatedFeedback{{DraftID: 1, RubricCategoryID: assignment.Rubric[0].ID, AggregatedScore: 1, Method: models.AggregationMean, Status: models.FeedbackStatusApproved}}))

	stored, err := repo.ListAggregated(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.InDelta(t, 70, stored[0].AggregatedScore, 1e-9)
	require.Equal(t, assignment.Rubric[0].Name, stored[0].RubricCategory.Name)

	edited := "Rewritten by teacher"
	override := 75.0
	approved, err := repo.ApproveCategory(ctx, 1, assignment.Rubric[0].ID, Approval{ApproverID: 3, At: time.Now(), EditedText: &edited, OverrideScore: &override})
	require.NoError(t, err)
	require.True(t, approved)

	approved, err = repo.ApproveCategory(ctx, 1, assignment.Rubric[0].ID, Approval{ApproverID: 3, At: time.Now()})
	require.NoError(t, err)
	require.False(t, approved)

	pending, err := repo.CountPending(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)

	count, err := repo.ApprovePending(ctx, 1, Approval{ApproverID: 3, At: time.Now()})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	stored, err = repo.ListAggregated(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, edited, stored[0].EffectiveText())
	require.InDelta(t, 75, stored[0].EffectiveScore(), 1e-9)
	require.True(t, stored[1].IsApproved())
}

func TestSubmissionTypeRepositoryListsActive(t *testing.T) {
	db := openTestDB(t)
	repo := NewSubmissionTypeRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.SubmissionTypeConfig{Code: "essay", Name: "Essay", InputKind: models.InputKindText, Active: true}))
	require.NoError(t, repo.Upsert(ctx, &models.SubmissionTypeConfig{Code: "video", Name: "Video", InputKind: models.InputKindFile, Active: false}))
	require.NoError(t, repo.Upsert(ctx, &models.SubmissionTypeConfig{Code: "essay", Name: "Long essay", InputKind: models.InputKindText, Active: true}))

	configs, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	require.Equal(t, "Long essay", configs[0].Name)
}

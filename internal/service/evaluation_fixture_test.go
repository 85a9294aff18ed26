package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-feedback-api/internal/database"
	"github.com/noah-isme/gema-feedback-api/internal/dto"
	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
	"github.com/noah-isme/gema-feedback-api/internal/submission"
	"github.com/noah-isme/gema-feedback-api/pkg/ai"
)

const testModel = "stub-grader"

const essayText = "Cities should invest in public transport because it reduces congestion and pollution.\n\nBuses and trains also give students a reliable way to reach school."

type scripted struct {
	text  string
	err   error
	block chan struct{}
}

// scriptedModel answers invocations in call order. Runs execute concurrently, so tests only rely on
// the multiset of answers, never on which run received which.
type scriptedModel struct {
	mu      sync.Mutex
	answers []scripted
	calls   int
	keys    []string
}

func (m *scriptedModel) Provider() string { return "stub" }
func (m *scriptedModel) Model() string    { return testModel }

func (m *scriptedModel) Invoke(ctx context.Context, req ai.Request) (ai.Response, error) {
	m.mu.Lock()
	m.calls++
	m.keys = append(m.keys, req.RunKey)
	if len(m.answers) == 0 {
		m.mu.Unlock()
		return ai.Response{}, errors.New("no scripted answer left")
	}
	answer := m.answers[0]
	m.answers = m.answers[1:]
	m.mu.Unlock()

	if answer.block != nil {
		select {
		case <-answer.block:
		case <-ctx.Done():
			return ai.Response{}, ctx.Err()
		}
	}
	if answer.err != nil {
		return ai.Response{}, answer.err
	}
	return ai.Response{Text: answer.text, Model: testModel}, nil
}

func (m *scriptedModel) script(answers ...scripted) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, answers...)
}

type recordingFiles struct {
	mu      sync.Mutex
	deleted []string
}

func (f *recordingFiles) Delete(_ context.Context, fileRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, fileRef)
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixtureOptions struct {
	rubric        []models.RubricCategory
	numRuns       int
	method        string
	requireReview bool
	maxDrafts     int
	ceiling       time.Duration
}

type pipelineFixture struct {
	db         *gorm.DB
	mini       *miniredis.Miniredis
	pipeline   *Pipeline
	assignment models.Assignment
	model      *scriptedModel
	files      *recordingFiles
	logs       *syncBuffer
	drafts     repository.DraftRepository
	runs       repository.ModelRunRepository
	feedback   repository.FeedbackRepository
}

func openEvaluationDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func newPipelineFixture(t *testing.T, opts fixtureOptions) *pipelineFixture {
	t.Helper()
	if len(opts.rubric) == 0 {
		opts.rubric = []models.RubricCategory{{Name: "Content", Weight: 100, Position: 1}}
	}
	if opts.numRuns == 0 {
		opts.numRuns = 3
	}
	if opts.method == "" {
		opts.method = models.AggregationMean
	}
	if opts.maxDrafts == 0 {
		opts.maxDrafts = 3
	}
	if opts.ceiling == 0 {
		opts.ceiling = time.Minute
	}

	db := openEvaluationDB(t)
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	assignments := repository.NewAssignmentRepository(db)
	assignment := models.Assignment{
		Title:          "Transport essay",
		SubmissionType: "essay",
		MaxDrafts:      opts.maxDrafts,
		Rubric:         opts.rubric,
		Settings: models.AssignmentEvaluationSettings{
			Models:            testModel,
			NumRuns:           opts.numRuns,
			AggregationMethod: opts.method,
			RequireReview:     opts.requireReview,
		},
	}
	require.NoError(t, assignments.Create(context.Background(), &assignment))
	assignment, err = assignments.GetWithRubric(context.Background(), assignment.ID)
	require.NoError(t, err)

	registry, err := submission.NewRegistry([]models.SubmissionTypeConfig{
		{Code: "essay", Name: "Essay", InputKind: models.InputKindText, MinWords: 5, Active: true},
	}, submission.Deps{Logger: zerolog.Nop()})
	require.NoError(t, err)

	logs := &syncBuffer{}
	logger := zerolog.New(logs)
	model := &scriptedModel{}
	files := &recordingFiles{}

	drafts := repository.NewDraftRepository(db)
	runs := repository.NewModelRunRepository(db)
	feedback := repository.NewFeedbackRepository(db)

	pipeline := NewPipeline(PipelineDeps{
		Assignments: assignments,
		Drafts:      drafts,
		Runs:        runs,
		Feedback:    feedback,
		Registry:    registry,
		Providers:   ai.Providers{testModel: model},
		Files:       files,
		Events:      NewDraftEventPublisher(redisClient, nil, "gema:evaluation", logger),
		Cache:       NewStatusCache(redisClient, time.Minute, logger),
		Validator:   validator.New(),
	}, PipelineConfig{
		Orchestrator: OrchestratorConfig{Workers: 2, RunTimeout: 5 * time.Second, DraftCeiling: opts.ceiling},
		SweepGrace:   time.Minute,
	}, logger)

	return &pipelineFixture{
		db:         db,
		mini:       mini,
		pipeline:   pipeline,
		assignment: assignment,
		model:      model,
		files:      files,
		logs:       logs,
		drafts:     drafts,
		runs:       runs,
		feedback:   feedback,
	}
}

func (f *pipelineFixture) category(name string) models.RubricCategory {
	for _, category := range f.assignment.Rubric {
		if category.Name == name {
			return category
		}
	}
	panic("unknown rubric category " + name)
}

func (f *pipelineFixture) submit(t *testing.T, studentID uint) dto.DraftSubmitResponse {
	t.Helper()
	response, err := f.pipeline.Drafts.Submit(context.Background(), dto.DraftSubmitRequest{
		AssignmentID:   f.assignment.ID,
		StudentID:      studentID,
		SubmissionType: "essay",
		Content:        essayText,
		FileRef:        "gema/submissions/transport-essay",
	})
	require.NoError(t, err)
	f.pipeline.Orchestrator.Wait()
	return response
}

func (f *pipelineFixture) draft(t *testing.T, id uint) models.Draft {
	t.Helper()
	draft, err := f.drafts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return draft
}

func (f *pipelineFixture) aggregated(t *testing.T, draftID uint) []models.AggregatedFeedback {
	t.Helper()
	rows, err := f.feedback.ListAggregated(context.Background(), draftID)
	require.NoError(t, err)
	return rows
}

func gradeJSON(scores map[string]float64) string {
	entries := make([]string, 0, len(scores))
	for name, score := range scores {
		entries = append(entries, fmt.Sprintf(`{"name": %q, "score": %g, "confidence": 0.9, "strengths": ["Clear thesis"], "improvements": ["Cite a source for %s"]}`, name, score, strings.ToLower(name)))
	}
	return `{"categories": [` + strings.Join(entries, ", ") + `]}`
}

func grade(scores map[string]float64) scripted {
	return scripted{text: gradeJSON(scores)}
}

func failure(message string) scripted {
	return scripted{err: errors.New(message)}
}

var reviewer = Actor{ID: 500, Role: RoleTeacher}

package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/skillify-edu/exam-service/internal/cache"
	"github.com/skillify-edu/exam-service/internal/events"
	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
	"github.com/skillify-edu/exam-service/internal/utils"
)

// ===== IN-MEMORY REPOSITORY =====

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[uint]*models.QuizAttempt
	nextID   uint
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{attempts: make(map[uint]*models.QuizAttempt), nextID: 1}
}

func copyAttempt(a *models.QuizAttempt) *models.QuizAttempt {
	cp := *a
	return &cp
}

func (r *fakeAttemptRepo) Create(ctx context.Context, attempt *models.QuizAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt.ID = r.nextID
	r.nextID++
	attempt.CreatedAt = time.Now()
	r.attempts[attempt.ID] = copyAttempt(attempt)
	return nil
}

func (r *fakeAttemptRepo) GetByID(ctx context.Context, id uint) (*models.QuizAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyAttempt(a), nil
}

func (r *fakeAttemptRepo) GetByIDWithStudent(ctx context.Context, id uint) (*models.QuizAttempt, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeAttemptRepo) List(ctx context.Context, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.QuizAttempt
	for _, a := range r.attempts {
		if filters.StudentID != nil && a.StudentID != *filters.StudentID {
			continue
		}
		if filters.ExamRef != nil && a.ExamRef != *filters.ExamRef {
			continue
		}
		if len(filters.ExamRefs) > 0 {
			found := false
			for _, ref := range filters.ExamRefs {
				if a.ExamRef == ref {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if filters.Status != nil && a.Status != *filters.Status {
			continue
		}
		if filters.FinalizedOnly && !a.IsFinalized {
			continue
		}
		out = append(out, copyAttempt(a))
	}
	return out, int64(len(out)), nil
}

func (r *fakeAttemptRepo) GetOngoing(ctx context.Context, studentID, examRef string) (*models.QuizAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.StudentID == studentID && a.ExamRef == examRef && !a.IsFinalized {
			return copyAttempt(a), nil
		}
	}
	return nil, nil
}

func (r *fakeAttemptRepo) HasFinalized(ctx context.Context, studentID, examRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.StudentID == studentID && a.ExamRef == examRef && a.IsFinalized {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeAttemptRepo) IncrementWarning(ctx context.Context, id uint, source models.WarningSource) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if a.IsFinalized {
		return false, nil
	}
	if source == models.WarningTab {
		a.TabWarnings++
	} else {
		a.FaceWarnings++
	}
	return true, nil
}

func (r *fakeAttemptRepo) SaveAnswerSheet(ctx context.Context, id uint, sheet datatypes.JSON) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if a.IsFinalized {
		return false, nil
	}
	a.AnswerSheet = sheet
	return true, nil
}

func (r *fakeAttemptRepo) SaveFaceDebounce(ctx context.Context, id uint, noFaceSince, lastWarningAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.NoFaceSince = noFaceSince
	a.LastFaceWarningAt = lastWarningAt
	return nil
}

func (r *fakeAttemptRepo) Finalize(ctx context.Context, id uint, params repositories.FinalizeParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if a.IsFinalized {
		return false, nil
	}
	a.Status = params.Status
	a.SubmitReason = &params.Reason
	a.Score = params.Score
	a.IsFinalized = true
	submittedAt := params.SubmittedAt
	a.SubmittedAt = &submittedAt
	if params.AnswerSheet != nil {
		a.AnswerSheet = params.AnswerSheet
	}
	return true, nil
}

type fakeExamRepo struct {
	mu     sync.Mutex
	exams  map[uint]*models.Exam
	nextID uint
}

func newFakeExamRepo() *fakeExamRepo {
	return &fakeExamRepo{exams: make(map[uint]*models.Exam), nextID: 1}
}

func copyExam(e *models.Exam) *models.Exam {
	cp := *e
	return &cp
}

func (r *fakeExamRepo) Create(ctx context.Context, exam *models.Exam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam.ID = r.nextID
	r.nextID++
	r.exams[exam.ID] = copyExam(exam)
	return nil
}

func (r *fakeExamRepo) GetByID(ctx context.Context, id uint) (*models.Exam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exams[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyExam(e), nil
}

func (r *fakeExamRepo) GetByIDForFaculty(ctx context.Context, id uint, facultyID string) (*models.Exam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exams[id]
	if !ok || e.FacultyID != facultyID {
		return nil, gorm.ErrRecordNotFound
	}
	return copyExam(e), nil
}

func (r *fakeExamRepo) Update(ctx context.Context, exam *models.Exam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exams[exam.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.exams[exam.ID] = copyExam(exam)
	return nil
}

func (r *fakeExamRepo) List(ctx context.Context, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Exam
	for _, e := range r.exams {
		if filters.FacultyID != nil && e.FacultyID != *filters.FacultyID {
			continue
		}
		if filters.Status != nil && e.Status != *filters.Status {
			continue
		}
		out = append(out, copyExam(e))
	}
	return out, int64(len(out)), nil
}

func (r *fakeExamRepo) ListScheduled(ctx context.Context, now time.Time) ([]*models.Exam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Exam
	for _, e := range r.exams {
		if e.Status != models.ExamScheduled || e.ScheduledAt == nil {
			continue
		}
		end := e.ScheduledAt.Add(time.Duration(e.Duration) * time.Minute)
		if end.After(now) {
			out = append(out, copyExam(e))
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) Upsert(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	// Conflict handling keeps the stored embedding, matching the column
	// list the real upsert updates.
	if existing, ok := r.users[user.ID]; ok {
		cp.FaceEmbedding = existing.FaceEmbedding
	}
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) UpdateFaceEmbedding(ctx context.Context, id string, embedding datatypes.JSON) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		u = &models.User{ID: id, Role: models.RoleStudent}
		r.users[id] = u
	}
	u.FaceEmbedding = embedding
	return nil
}

type fakeRepository struct {
	attempt *fakeAttemptRepo
	exam    *fakeExamRepo
	user    *fakeUserRepo
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		attempt: newFakeAttemptRepo(),
		exam:    newFakeExamRepo(),
		user:    newFakeUserRepo(),
	}
}

func (r *fakeRepository) Attempt() repositories.AttemptRepository { return r.attempt }
func (r *fakeRepository) Exam() repositories.ExamRepository       { return r.exam }
func (r *fakeRepository) User() repositories.UserRepository       { return r.user }

// ===== IN-MEMORY CACHE =====

type fakeCache struct {
	mu     sync.Mutex
	values map[string][]byte
	locks  map[string]struct{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string][]byte), locks: make(map[string]struct{})}
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = data
	return nil
}

func (c *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	data, ok := c.values[key]
	c.mu.Unlock()
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *fakeCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[key]; held {
		return false, nil
	}
	c.locks[key] = struct{}{}
	return true, nil
}

func (c *fakeCache) ReleaseLock(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

// ===== STUB GENERATOR =====

type stubGenerator struct {
	questions []models.QuizQuestion
	err       error
}

func (g *stubGenerator) GenerateQuestions(ctx context.Context, topic string, difficulty models.DifficultyLevel, count int, sourceText string) ([]models.QuizQuestion, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.questions, nil
}

// ===== TEST ENVIRONMENT =====

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestValidator() *utils.Validator {
	return utils.NewValidator()
}

type testEnv struct {
	repo      *fakeRepository
	cache     *fakeCache
	publisher *events.MockEventPublisher
	clock     *testClock
	generator *stubGenerator
	attempts  AttemptService
	proctor   ProctorService
	exams     ExamService
}

func newTestEnv() *testEnv {
	logger := testLogger()
	env := &testEnv{
		repo:      newFakeRepository(),
		cache:     newFakeCache(),
		publisher: events.NewMockEventPublisher(logger),
		clock:     newTestClock(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)),
		generator: &stubGenerator{},
	}

	validator := utils.NewValidator()
	generation := NewGenerationService(env.generator, logger, validator)

	attempts := NewAttemptService(env.repo, generation, env.cache, env.publisher, logger, validator).(*attemptService)
	attempts.now = env.clock.Now
	env.attempts = attempts

	proctor := NewProctorService(env.repo, attempts, env.cache, env.publisher, logger, validator).(*proctorService)
	proctor.now = env.clock.Now
	env.proctor = proctor

	exams := NewExamService(env.repo, generation, env.publisher, logger, validator).(*examService)
	exams.now = env.clock.Now
	env.exams = exams

	return env
}

func intPtr(i int) *int { return &i }

// sampleQuestions returns a deterministic four-question snapshot.
func sampleQuestions() []models.QuizQuestion {
	return []models.QuizQuestion{
		{QuestionID: "q1", Prompt: "What does TCP stand for?", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 0},
		{QuestionID: "q2", Prompt: "Which layer does IP live in?", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 1},
		{QuestionID: "q3", Prompt: "What is a socket?", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 2},
		{QuestionID: "q4", Prompt: "What does DNS resolve?", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 3},
	}
}

// seedScheduledExam stores a SCHEDULED exam whose window contains the clock's
// current time.
func (env *testEnv) seedScheduledExam(scope models.ExamScope, assigned []string) *models.Exam {
	scheduledAt := env.clock.Now().Add(-time.Minute)
	exam := &models.Exam{
		Title:       "Networking Midterm",
		FacultyID:   "faculty-1",
		Duration:    60,
		Status:      models.ExamScheduled,
		Scope:       scope,
		ScheduledAt: &scheduledAt,
	}
	if err := exam.SetQuestionSet(sampleQuestions()); err != nil {
		panic(err)
	}
	if scope == models.ScopeSelected {
		if err := exam.SetAssignedStudentIDs(assigned); err != nil {
			panic(err)
		}
	}
	if err := env.repo.exam.Create(context.Background(), exam); err != nil {
		panic(err)
	}
	return exam
}

// seedOngoingAttempt stores an unfinalized attempt with the sample snapshot.
func (env *testEnv) seedOngoingAttempt(studentID string) *models.QuizAttempt {
	attempt := &models.QuizAttempt{
		StudentID: studentID,
		ExamRef:   models.CustomQuizRef,
		Status:    models.AttemptOngoing,
		StartedAt: env.clock.Now(),
	}
	if err := attempt.SetSnapshotQuestions(sampleQuestions()); err != nil {
		panic(err)
	}
	if err := env.repo.attempt.Create(context.Background(), attempt); err != nil {
		panic(err)
	}
	return attempt
}

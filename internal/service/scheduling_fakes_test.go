package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	"github.com/noah-isme/drive-school-api/pkg/events"
)

// fakeStore keeps enrollments and sessions in memory. fakeTx serialises
// transactions against it and restores a snapshot when fn fails.
type fakeStore struct {
	mu          sync.Mutex
	enrollments map[string]models.Enrollment
	sessions    map[string]models.Session
	seq         int

	failCreateBatch error
}

func newFakeStore() *fakeStore {
	return &fakeStore{enrollments: map[string]models.Enrollment{}, sessions: map[string]models.Session{}}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) snapshot() (map[string]models.Enrollment, map[string]models.Session, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enrollments := make(map[string]models.Enrollment, len(f.enrollments))
	for k, v := range f.enrollments {
		enrollments[k] = v
	}
	sessions := make(map[string]models.Session, len(f.sessions))
	for k, v := range f.sessions {
		sessions[k] = v
	}
	return enrollments, sessions, f.seq
}

func (f *fakeStore) restore(enrollments map[string]models.Enrollment, sessions map[string]models.Session, seq int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollments, f.sessions, f.seq = enrollments, sessions, seq
}

func (f *fakeStore) addEnrollment(e models.Enrollment) models.Enrollment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		e.ID = f.nextID("enr")
	}
	if e.Status == "" {
		e.Status = models.EnrollmentStatusActive
	}
	f.enrollments[e.ID] = e
	return e
}

func (f *fakeStore) addSession(s models.Session) models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = f.nextID("ses")
	}
	if s.Status == "" {
		s.Status = models.SessionStatusPending
	}
	f.sessions[s.ID] = s
	return s
}

func (f *fakeStore) session(id string) models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

func (f *fakeStore) enrollment(id string) models.Enrollment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrollments[id]
}

func (f *fakeStore) sessionsOf(enrollmentID string) []models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sessions {
		if s.EnrollmentID == enrollmentID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

type fakeTx struct {
	mu    sync.Mutex
	store *fakeStore
	calls []string
}

func (r *fakeTx) run(label string, fn func(tx *sqlx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, label)
	enrollments, sessions, seq := r.store.snapshot()
	if err := fn(nil); err != nil {
		r.store.restore(enrollments, sessions, seq)
		return err
	}
	return nil
}

func (r *fakeTx) Serializable(_ context.Context, label string, fn func(tx *sqlx.Tx) error) error {
	return r.run(label, fn)
}

func (r *fakeTx) ReadCommitted(_ context.Context, label string, fn func(tx *sqlx.Tx) error) error {
	return r.run(label, fn)
}

type fakeEnrollments struct{ *fakeStore }

func (f fakeEnrollments) Create(_ context.Context, _ sqlx.ExtContext, e *models.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		e.ID = f.nextID("enr")
	}
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt
	f.enrollments[e.ID] = *e
	return nil
}

func (f fakeEnrollments) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok || e.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (f fakeEnrollments) LockByID(ctx context.Context, tx sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	return f.FindByID(ctx, tx, tenantID, id)
}

func (f fakeEnrollments) FindDetail(ctx context.Context, tenantID, id string) (*models.EnrollmentDetail, error) {
	e, err := f.FindByID(ctx, nil, tenantID, id)
	if err != nil {
		return nil, err
	}
	return &models.EnrollmentDetail{Enrollment: *e}, nil
}

func (f fakeEnrollments) adjust(tenantID, id string, delta int) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok || e.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	e.CompletedDays += delta
	if e.CompletedDays < 0 {
		e.CompletedDays = 0
	}
	switch {
	case delta > 0 && e.CompletedDays >= e.PlanDays:
		e.Status = models.EnrollmentStatusCompleted
	case delta < 0 && e.Status == models.EnrollmentStatusCompleted:
		e.Status = models.EnrollmentStatusActive
	}
	f.enrollments[id] = e
	return &e, nil
}

func (f fakeEnrollments) IncrementCompleted(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	return f.adjust(tenantID, id, 1)
}

func (f fakeEnrollments) DecrementCompleted(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	return f.adjust(tenantID, id, -1)
}

func (f fakeEnrollments) TransitionStatus(_ context.Context, _ sqlx.ExtContext, tenantID, id string, from, to models.EnrollmentStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok || e.TenantID != tenantID || e.Status != from {
		return false, nil
	}
	e.Status = to
	f.enrollments[id] = e
	return true, nil
}

func (f fakeEnrollments) List(_ context.Context, tenantID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range f.enrollments {
		if e.TenantID != tenantID {
			continue
		}
		if filter.TrainerID != "" && e.TrainerID != filter.TrainerID {
			continue
		}
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: e})
	}
	return out, len(out), nil
}

type fakeSessions struct{ *fakeStore }

func (f fakeSessions) CreateBatch(_ context.Context, _ sqlx.ExtContext, sessions []models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateBatch != nil {
		return f.failCreateBatch
	}
	for i := range sessions {
		sessions[i].ID = f.nextID("ses")
		f.sessions[sessions[i].ID] = sessions[i]
	}
	return nil
}

func (f fakeSessions) Create(_ context.Context, _ sqlx.ExtContext, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = f.nextID("ses")
	f.sessions[s.ID] = *s
	return nil
}

func (f fakeSessions) FindByID(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f fakeSessions) FindSpawnedBy(_ context.Context, _ sqlx.ExtContext, tenantID, sessionID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.TenantID == tenantID && s.SpawnedFrom != nil && *s.SpawnedFrom == sessionID {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeSessions) FindLatestPending(_ context.Context, _ sqlx.ExtContext, tenantID, enrollmentID, excludeID string) (*models.Session, error) {
	var latest *models.Session
	for _, s := range f.sessionsOf(enrollmentID) {
		if s.TenantID != tenantID || s.ID == excludeID || s.Status != models.SessionStatusPending {
			continue
		}
		s := s
		latest = &s
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (f fakeSessions) LatestDate(_ context.Context, _ sqlx.ExtContext, tenantID, enrollmentID string) (calendar.Date, error) {
	sessions := f.sessionsOf(enrollmentID)
	if len(sessions) == 0 {
		return calendar.Date{}, sql.ErrNoRows
	}
	return sessions[len(sessions)-1].Date, nil
}

func (f fakeSessions) FindOverlapping(_ context.Context, _ sqlx.ExtContext, tenantID string, dates []calendar.Date, trainerID, vehicleID, studentID string) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[calendar.Date]bool, len(dates))
	for _, d := range dates {
		wanted[d] = true
	}
	var out []models.Session
	for _, s := range f.sessions {
		if s.TenantID != tenantID || !wanted[s.Date] || s.Status == models.SessionStatusCancelled {
			continue
		}
		if s.TrainerID == trainerID || s.VehicleID == vehicleID || s.StudentID == studentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f fakeSessions) TransitionStatus(_ context.Context, _ sqlx.ExtContext, tenantID, id string, from, to models.SessionStatus, notes *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.TenantID != tenantID || s.Status != from {
		return false, nil
	}
	s.Status = to
	s.Notes = notes
	f.sessions[id] = s
	return true, nil
}

func (f fakeSessions) DeletePending(_ context.Context, _ sqlx.ExtContext, tenantID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.TenantID != tenantID || s.Status != models.SessionStatusPending {
		return false, nil
	}
	delete(f.sessions, id)
	return true, nil
}

func (f fakeSessions) CancelPending(_ context.Context, _ sqlx.ExtContext, tenantID, enrollmentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if s.TenantID == tenantID && s.EnrollmentID == enrollmentID && s.Status == models.SessionStatusPending {
			s.Status = models.SessionStatusCancelled
			f.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (f fakeSessions) List(_ context.Context, tenantID string, filter models.SessionFilter) ([]models.SessionDetail, error) {
	f.mu.Lock()
	var out []models.SessionDetail
	for _, s := range f.sessions {
		if s.TenantID != tenantID {
			continue
		}
		if filter.EnrollmentID != "" && s.EnrollmentID != filter.EnrollmentID {
			continue
		}
		if filter.TrainerID != "" && s.TrainerID != filter.TrainerID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.DateFrom != nil && s.Date.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && s.Date.After(*filter.DateTo) {
			continue
		}
		out = append(out, models.SessionDetail{Session: s})
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type fakeMembers map[string]models.User

func (m fakeMembers) FindByID(_ context.Context, tenantID, id string) (*models.User, error) {
	u, ok := m[id]
	if !ok || u.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

type fakeVehicles map[string]models.Vehicle

func (m fakeVehicles) FindByID(_ context.Context, tenantID, id string) (*models.Vehicle, error) {
	v, ok := m[id]
	if !ok || v.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return &v, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type recordingCache struct {
	mu          sync.Mutex
	values      map[string]interface{}
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{values: map[string]interface{}{}}
}

func (c *recordingCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return false, nil
	}
	switch d := dest.(type) {
	case *models.Progress:
		*d = *(v.(*models.Progress))
	case *models.CompanyDashboard:
		*d = *(v.(*models.CompanyDashboard))
	case *models.TrainerDashboard:
		*d = *(v.(*models.TrainerDashboard))
	case *models.Tenant:
		*d = *(v.(*models.Tenant))
	default:
		return false, fmt.Errorf("unsupported cache type %T", dest)
	}
	return true, nil
}

func (c *recordingCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, pattern)
	return nil
}

const testTenant = "tenant-1"

var (
	adminActor   = models.Actor{TenantID: testTenant, UserID: "admin-1", Role: models.RoleCompanyAdmin}
	trainerActor = models.Actor{TenantID: testTenant, UserID: "trainer-1", Role: models.RoleTrainer}
	studentActor = models.Actor{TenantID: testTenant, UserID: "student-1", Role: models.RoleStudent}
)

func testMembers() fakeMembers {
	return fakeMembers{
		"trainer-1": {ID: "trainer-1", TenantID: testTenant, Role: models.RoleTrainer, Active: true},
		"trainer-2": {ID: "trainer-2", TenantID: testTenant, Role: models.RoleTrainer, Active: true},
		"trainer-x": {ID: "trainer-x", TenantID: testTenant, Role: models.RoleTrainer, Active: false},
		"student-1": {ID: "student-1", TenantID: testTenant, Role: models.RoleStudent, Active: true},
		"student-2": {ID: "student-2", TenantID: testTenant, Role: models.RoleStudent, Active: true},
		"other-stu": {ID: "other-stu", TenantID: "tenant-2", Role: models.RoleStudent, Active: true},
	}
}

func testVehicles() fakeVehicles {
	return fakeVehicles{
		"car-1": {ID: "car-1", TenantID: testTenant, Name: "Swift", Active: true},
		"car-2": {ID: "car-2", TenantID: testTenant, Name: "Alto", Active: true},
		"car-x": {ID: "car-x", TenantID: testTenant, Name: "Old", Active: false},
	}
}

type schedulingHarness struct {
	store       *fakeStore
	tx          *fakeTx
	cache       *recordingCache
	publisher   *recordingPublisher
	enrollments *EnrollmentService
	attendance  *AttendanceService
}

func newSchedulingHarness() *schedulingHarness {
	store := newFakeStore()
	tx := &fakeTx{store: store}
	cache := newRecordingCache()
	publisher := &recordingPublisher{}
	detector := NewConflictDetector(fakeSessions{store})
	return &schedulingHarness{
		store:     store,
		tx:        tx,
		cache:     cache,
		publisher: publisher,
		enrollments: NewEnrollmentService(EnrollmentServiceParams{
			Enrollments: fakeEnrollments{store},
			Sessions:    fakeSessions{store},
			Users:       testMembers(),
			Vehicles:    testVehicles(),
			Detector:    detector,
			Tx:          tx,
			Cache:       cache,
			Publisher:   publisher,
		}),
		attendance: NewAttendanceService(AttendanceServiceParams{
			Sessions:    fakeSessions{store},
			Enrollments: fakeEnrollments{store},
			Detector:    detector,
			Tx:          tx,
			Cache:       cache,
			Publisher:   publisher,
		}),
	}
}

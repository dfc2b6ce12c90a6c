package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/xandra-X/humio/internal/model"
	"github.com/xandra-X/humio/internal/repository"
)

// 对账任务会并发调用仓储，所有 mock 都加锁

var errMockDB = errors.New("mock db failure")

// ── Mock AttendanceRepository ──

type mockAttendanceRepo struct {
	mu      sync.Mutex
	records map[int64]*model.AttendanceRecord
	nextID  int64
	// failClose 对这些记录的 CloseIfOpen 返回错误
	failClose map[int64]bool
}

func newMockAttendanceRepo() *mockAttendanceRepo {
	return &mockAttendanceRepo{
		records:   make(map[int64]*model.AttendanceRecord),
		failClose: make(map[int64]bool),
	}
}

// seed 直接写入一条记录，返回其 ID
func (m *mockAttendanceRepo) seed(rec model.AttendanceRecord) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.AttendanceID = m.nextID
	m.records[rec.AttendanceID] = &rec
	return rec.AttendanceID
}

// get 返回记录副本，供断言使用
func (m *mockAttendanceRepo) get(id int64) model.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return *r
	}
	return model.AttendanceRecord{}
}

func (m *mockAttendanceRepo) find(employeeID int64, date model.Date) model.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.findLocked(employeeID, date); r != nil {
		return *r
	}
	return model.AttendanceRecord{}
}

func (m *mockAttendanceRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *mockAttendanceRepo) findLocked(employeeID int64, date model.Date) *model.AttendanceRecord {
	for _, r := range m.records {
		if r.EmployeeID == employeeID && r.WorkDate == date {
			return r
		}
	}
	return nil
}

func (m *mockAttendanceRepo) Create(_ context.Context, rec *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findLocked(rec.EmployeeID, rec.WorkDate) != nil {
		return gorm.ErrDuplicatedKey
	}
	m.nextID++
	rec.AttendanceID = m.nextID
	cp := *rec
	m.records[cp.AttendanceID] = &cp
	return nil
}

func (m *mockAttendanceRepo) CreateIfAbsent(ctx context.Context, rec *model.AttendanceRecord) (bool, error) {
	err := m.Create(ctx, rec)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	return err == nil, err
}

func (m *mockAttendanceRepo) GetByEmployeeAndDate(_ context.Context, employeeID int64, date model.Date) (*model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.findLocked(employeeID, date); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockAttendanceRepo) LockByEmployeeAndDate(ctx context.Context, employeeID int64, date model.Date) (*model.AttendanceRecord, error) {
	return m.GetByEmployeeAndDate(ctx, employeeID, date)
}

func (m *mockAttendanceRepo) LockByID(_ context.Context, id int64) (*model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockAttendanceRepo) FindOpenBefore(_ context.Context, employeeID int64, date model.Date) (*model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.AttendanceRecord
	for _, r := range m.records {
		if r.EmployeeID != employeeID || !r.WorkDate.Before(date) || !r.IsOpen() {
			continue
		}
		if best == nil || best.WorkDate.Before(r.WorkDate) {
			best = r
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *mockAttendanceRepo) ListOpenForDate(_ context.Context, date model.Date) ([]model.AttendanceRecord, error) {
	return m.list(func(r *model.AttendanceRecord) bool { return r.IsOpen() && r.WorkDate == date }), nil
}

func (m *mockAttendanceRepo) ListOpenBefore(_ context.Context, date model.Date) ([]model.AttendanceRecord, error) {
	return m.list(func(r *model.AttendanceRecord) bool { return r.IsOpen() && r.WorkDate.Before(date) }), nil
}

func (m *mockAttendanceRepo) ListByEmployee(_ context.Context, employeeID int64, limit int) ([]model.AttendanceRecord, error) {
	recs := m.list(func(r *model.AttendanceRecord) bool { return r.EmployeeID == employeeID })
	sort.Slice(recs, func(i, j int) bool { return recs[j].WorkDate.Before(recs[i].WorkDate) })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (m *mockAttendanceRepo) ListByDateRange(_ context.Context, from, to model.Date) ([]model.AttendanceRecord, error) {
	recs := m.list(func(r *model.AttendanceRecord) bool {
		return !r.WorkDate.Before(from) && !to.Before(r.WorkDate)
	})
	sort.Slice(recs, func(i, j int) bool { return recs[i].WorkDate.Before(recs[j].WorkDate) })
	return recs, nil
}

func (m *mockAttendanceRepo) UpdateCheckIn(_ context.Context, id int64, checkIn time.Time, status, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.CheckIn = &checkIn
	r.Status = status
	r.Source = source
	return nil
}

func (m *mockAttendanceRepo) CloseIfOpen(_ context.Context, id int64, checkOut time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClose[id] {
		return false, errMockDB
	}
	r, ok := m.records[id]
	if !ok || !r.IsOpen() {
		return false, nil
	}
	r.CheckOut = &checkOut
	return true, nil
}

func (m *mockAttendanceRepo) MarkAutoCheckedOut(_ context.Context, id int64) error {
	return m.update(id, func(r *model.AttendanceRecord) { r.AutoCheckedOut = true })
}

func (m *mockAttendanceRepo) MarkNeedsReview(_ context.Context, id int64) error {
	return m.update(id, func(r *model.AttendanceRecord) { r.NeedsReview = true })
}

func (m *mockAttendanceRepo) MarkOnLeave(_ context.Context, employeeID int64, date model.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.findLocked(employeeID, date)
	if r == nil {
		m.nextID++
		r = &model.AttendanceRecord{AttendanceID: m.nextID, EmployeeID: employeeID, WorkDate: date}
		m.records[r.AttendanceID] = r
	}
	r.CheckIn = nil
	r.CheckOut = nil
	r.Status = model.StatusOnLeave
	r.Source = model.SourceManual
	return nil
}

func (m *mockAttendanceRepo) update(id int64, fn func(r *model.AttendanceRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	fn(r)
	return nil
}

func (m *mockAttendanceRepo) list(match func(r *model.AttendanceRecord) bool) []model.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AttendanceRecord
	for _, r := range m.records {
		if match(r) {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttendanceID < out[j].AttendanceID })
	return out
}

// ── Mock EmployeeRepository ──

type mockEmployeeRepo struct {
	mu         sync.Mutex
	byUser     map[int64]int64
	ids        []int64
	attendance *mockAttendanceRepo
	lookups    int
	failLookup bool
}

func newMockEmployeeRepo(attendance *mockAttendanceRepo) *mockEmployeeRepo {
	return &mockEmployeeRepo{byUser: make(map[int64]int64), attendance: attendance}
}

// add 登记员工；userID 为 0 表示未绑定账号
func (m *mockEmployeeRepo) add(employeeID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, employeeID)
	if userID != 0 {
		m.byUser[userID] = employeeID
	}
}

func (m *mockEmployeeRepo) Create(_ context.Context, emp *model.Employee) error {
	var userID int64
	if emp.UserID != nil {
		userID = *emp.UserID
	}
	m.add(emp.EmployeeID, userID)
	return nil
}

func (m *mockEmployeeRepo) FindIDByUserID(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.failLookup {
		return 0, errMockDB
	}
	if id, ok := m.byUser[userID]; ok {
		return id, nil
	}
	return 0, gorm.ErrRecordNotFound
}

func (m *mockEmployeeRepo) ListIDsWithoutAttendance(_ context.Context, date model.Date) ([]int64, error) {
	m.mu.Lock()
	ids := append([]int64(nil), m.ids...)
	m.mu.Unlock()

	var out []int64
	for _, id := range ids {
		if m.attendance.find(id, date).AttendanceID == 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *mockEmployeeRepo) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

// ── Mock ScanLogRepository ──

type mockScanLogRepo struct {
	mu      sync.Mutex
	entries []model.ScanLogEntry
	fail    bool
}

func newMockScanLogRepo() *mockScanLogRepo {
	return &mockScanLogRepo{}
}

func (m *mockScanLogRepo) Create(_ context.Context, entry *model.ScanLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMockDB
	}
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockScanLogRepo) LastForUser(_ context.Context, userID int64) (*model.ScanLogEntry, error) {
	return m.last(func(e *model.ScanLogEntry) bool { return e.UserID != nil && *e.UserID == userID })
}

func (m *mockScanLogRepo) LastForDevice(_ context.Context, deviceUUID string) (*model.ScanLogEntry, error) {
	return m.last(func(e *model.ScanLogEntry) bool { return e.DeviceUUID == deviceUUID })
}

func (m *mockScanLogRepo) last(match func(e *model.ScanLogEntry) bool) (*model.ScanLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.ScanLogEntry
	for i := range m.entries {
		e := &m.entries[i]
		if !match(e) {
			continue
		}
		if best == nil || e.ScannedAt.After(best.ScannedAt) ||
			(e.ScannedAt.Equal(best.ScannedAt) && e.ID > best.ID) {
			best = e
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *mockScanLogRepo) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ── Mock DepartmentRepository ──

type mockDeptRepo struct {
	rows     []repository.DepartmentAttendance
	err      error
	lastDate model.Date
}

func newMockDeptRepo() *mockDeptRepo {
	return &mockDeptRepo{}
}

func (m *mockDeptRepo) Create(_ context.Context, _ *model.Department) error {
	return nil
}

func (m *mockDeptRepo) AttendanceOverview(_ context.Context, date model.Date) ([]repository.DepartmentAttendance, error) {
	m.lastDate = date
	if m.err != nil {
		return nil, m.err
	}
	return m.rows, nil
}

// ── 测试夹具 ──

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testLoc 考勤时区固定为 UTC+8，与运行机器的本地时区无关
var testLoc = time.FixedZone("UTC+8", 8*3600)

func at(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, testLoc)
}

type testRepos struct {
	repo       *repository.Repository
	attendance *mockAttendanceRepo
	employee   *mockEmployeeRepo
	scanLog    *mockScanLogRepo
	dept       *mockDeptRepo
}

func newTestRepos() *testRepos {
	att := newMockAttendanceRepo()
	tr := &testRepos{
		attendance: att,
		employee:   newMockEmployeeRepo(att),
		scanLog:    newMockScanLogRepo(),
		dept:       newMockDeptRepo(),
	}
	tr.repo = &repository.Repository{
		Employee:   tr.employee,
		Department: tr.dept,
		Attendance: tr.attendance,
		ScanLog:    tr.scanLog,
	}
	return tr
}

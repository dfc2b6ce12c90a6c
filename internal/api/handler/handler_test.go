package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xandra-X/humio/internal/api/middleware"
	"github.com/xandra-X/humio/internal/dto"
	"github.com/xandra-X/humio/internal/service"
	"github.com/xandra-X/humio/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ═══════════════════════════════════════════════════════════
// Mock Services
// ═══════════════════════════════════════════════════════════

// ── Mock AttendanceService ──

type mockAttendanceService struct {
	checkResult   *dto.CheckResponse
	checkErr      error
	checkUserID   int64
	checkReq      *dto.CheckRequest
	todayResult   *dto.TodayResponse
	todayErr      error
	historyResult []dto.HistoryItem
	historyErr    error
	historyLimit  int
	leaveErr      error
	leaveReq      *dto.MarkLeaveRequest
	displayResult *dto.DisplayTokenResponse
	displayErr    error
}

func (m *mockAttendanceService) Check(_ context.Context, userID int64, req *dto.CheckRequest) (*dto.CheckResponse, error) {
	m.checkUserID = userID
	m.checkReq = req
	return m.checkResult, m.checkErr
}
func (m *mockAttendanceService) Today(_ context.Context, _ int64) (*dto.TodayResponse, error) {
	return m.todayResult, m.todayErr
}
func (m *mockAttendanceService) History(_ context.Context, _ int64, limit int) ([]dto.HistoryItem, error) {
	m.historyLimit = limit
	return m.historyResult, m.historyErr
}
func (m *mockAttendanceService) MarkOnLeave(_ context.Context, req *dto.MarkLeaveRequest) error {
	m.leaveReq = req
	return m.leaveErr
}
func (m *mockAttendanceService) DisplayToken(_ context.Context, _ string) (*dto.DisplayTokenResponse, error) {
	return m.displayResult, m.displayErr
}

// ── Mock SweeperService ──

type mockSweeperService struct {
	result *dto.SweepResult
	err    error
	ctxErr error
}

func (m *mockSweeperService) RunOnce(ctx context.Context) (*dto.SweepResult, error) {
	m.ctxErr = ctx.Err()
	return m.result, m.err
}
func (m *mockSweeperService) Start(_ context.Context) {}
func (m *mockSweeperService) Stop()                   {}

// ── Mock ReportService ──

type mockReportService struct {
	overviewResult *dto.OverviewResponse
	overviewErr    error
	buf            *bytes.Buffer
	filename       string
	exportErr      error
}

func (m *mockReportService) Overview(_ context.Context, _ string) (*dto.OverviewResponse, error) {
	return m.overviewResult, m.overviewErr
}
func (m *mockReportService) Export(_ context.Context, _, _ string) (*bytes.Buffer, string, error) {
	return m.buf, m.filename, m.exportErr
}

// ═══════════════════════════════════════════════════════════
// Test Helpers
// ═══════════════════════════════════════════════════════════

// withUser 模拟身份中间件注入的上下文
func withUser(userID int64, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextRole, role)
		c.Next()
	}
}

func serve(r *gin.Engine, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonBody(v interface{}) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func parseSimple(w *httptest.ResponseRecorder) response.Simple {
	var resp response.Simple
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func parseResponse(w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func attendanceRouter(att *mockAttendanceService, sw *mockSweeperService) *gin.Engine {
	h := NewAttendanceHandler(att, sw)
	r := gin.New()
	r.Use(withUser(1001, "admin"))
	r.POST("/check", h.Check)
	r.GET("/today", h.Today)
	r.GET("/history", h.History)
	r.PUT("/leave", h.MarkLeave)
	r.POST("/sweep", h.Sweep)
	return r
}

// ═══════════════════════════════════════════════════════════
// AttendanceHandler Tests
// ═══════════════════════════════════════════════════════════

func TestAttendanceHandler_Check_Success(t *testing.T) {
	mock := &mockAttendanceService{checkResult: &dto.CheckResponse{Success: true, Message: "Checked in successfully"}}
	r := attendanceRouter(mock, nil)

	w := serve(r, http.MethodPost, "/check", jsonBody(dto.CheckRequest{Action: "CHECK_IN", QR: "gate-a|123"}))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	resp := parseSimple(w)
	if !resp.Success || resp.Message != "Checked in successfully" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if mock.checkUserID != 1001 || mock.checkReq.QR != "gate-a|123" {
		t.Errorf("请求未正确传递到 Service: user=%d req=%+v", mock.checkUserID, mock.checkReq)
	}
}

func TestAttendanceHandler_Check_BusinessError(t *testing.T) {
	mock := &mockAttendanceService{checkErr: &service.CheckError{
		Kind:    service.ErrAlreadyCheckedIn,
		Message: "Already checked in",
	}}
	r := attendanceRouter(mock, nil)

	w := serve(r, http.MethodPost, "/check", jsonBody(dto.CheckRequest{Action: "CHECK_IN", QR: "gate-a|1"}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	resp := parseSimple(w)
	if resp.Success || resp.Message != "Already checked in" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestAttendanceHandler_Check_CooldownRetryAfter(t *testing.T) {
	mock := &mockAttendanceService{checkErr: &service.CheckError{
		Kind:       service.ErrCooldownActive,
		Message:    "Please wait 42 seconds before scanning again",
		RetryAfter: 41*time.Second + 200*time.Millisecond,
	}}
	r := attendanceRouter(mock, nil)

	w := serve(r, http.MethodPost, "/check", jsonBody(dto.CheckRequest{Action: "CHECK_OUT", QR: "gate-a|1"}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "42" {
		t.Errorf("expected Retry-After 42, got %q", got)
	}
}

func TestAttendanceHandler_Check_InternalError(t *testing.T) {
	mock := &mockAttendanceService{checkErr: errors.New("connection refused")}
	r := attendanceRouter(mock, nil)

	w := serve(r, http.MethodPost, "/check", jsonBody(dto.CheckRequest{Action: "CHECK_IN", QR: "gate-a|1"}))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	resp := parseSimple(w)
	if resp.Success || !strings.HasPrefix(resp.Message, "Internal error: ") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestAttendanceHandler_Check_BadJSON(t *testing.T) {
	mock := &mockAttendanceService{}
	r := attendanceRouter(mock, nil)

	w := serve(r, http.MethodPost, "/check", strings.NewReader("{not json"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if mock.checkReq != nil {
		t.Error("格式错误的请求不应调用 Service")
	}
}

func TestAttendanceHandler_Check_EmptyBody(t *testing.T) {
	mock := &mockAttendanceService{checkErr: &service.CheckError{
		Kind:    service.ErrUnknownAction,
		Message: "Unknown action: ",
	}}
	r := attendanceRouter(mock, nil)

	w := serve(r, http.MethodPost, "/check", strings.NewReader(""))

	if mock.checkReq == nil {
		t.Fatal("空请求体应交由 Service 给出具体原因")
	}
	if resp := parseSimple(w); resp.Message != "Unknown action: " {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestAttendanceHandler_Check_Unauthenticated(t *testing.T) {
	h := NewAttendanceHandler(&mockAttendanceService{}, nil)
	r := gin.New()
	r.POST("/check", h.Check)

	w := serve(r, http.MethodPost, "/check", jsonBody(dto.CheckRequest{}))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAttendanceHandler_Today(t *testing.T) {
	in := "08:55 AM"
	mock := &mockAttendanceService{todayResult: &dto.TodayResponse{
		CheckedIn: true, CheckInTime: &in, CanCheckOut: true,
	}}
	r := attendanceRouter(mock, nil)

	w := serve(r, http.MethodGet, "/today", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"checkedIn":true`, `"checkInTime":"08:55 AM"`, `"checkOutTime":null`, `"canCheckIn":false`, `"canCheckOut":true`} {
		if !strings.Contains(body, want) {
			t.Errorf("响应缺少 %s: %s", want, body)
		}
	}
}

func TestAttendanceHandler_History(t *testing.T) {
	mock := &mockAttendanceService{historyResult: []dto.HistoryItem{
		{Date: "2026-03-02", Status: "PRESENT"},
	}}
	r := attendanceRouter(mock, nil)

	w := serve(r, http.MethodGet, "/history?limit=5", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if mock.historyLimit != 5 {
		t.Errorf("expected limit 5, got %d", mock.historyLimit)
	}
	var items []dto.HistoryItem
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil || len(items) != 1 {
		t.Errorf("响应应为数组: %s", w.Body.String())
	}
}

func TestAttendanceHandler_History_BadLimit(t *testing.T) {
	r := attendanceRouter(&mockAttendanceService{}, nil)

	if w := serve(r, http.MethodGet, "/history?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAttendanceHandler_MarkLeave(t *testing.T) {
	mock := &mockAttendanceService{}
	r := attendanceRouter(mock, nil)

	w := serve(r, http.MethodPut, "/leave", jsonBody(dto.MarkLeaveRequest{EmployeeID: 7, Date: "2026-03-02"}))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if mock.leaveReq == nil || mock.leaveReq.EmployeeID != 7 {
		t.Errorf("请求未正确传递: %+v", mock.leaveReq)
	}

	w = serve(r, http.MethodPut, "/leave", jsonBody(map[string]interface{}{"employee_id": 7, "date": "03/02/2026"}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("日期格式错误期望 400, got %d", w.Code)
	}
}

func TestAttendanceHandler_Sweep(t *testing.T) {
	sw := &mockSweeperService{result: &dto.SweepResult{AutoCheckedOut: 3, FlaggedForReview: []int64{}}}
	r := attendanceRouter(&mockAttendanceService{}, sw)

	w := serve(r, http.MethodPost, "/sweep", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"auto_checked_out":3`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	sw.err = errors.New("step failed")
	w = serve(r, http.MethodPost, "/sweep", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if resp := parseResponse(w); resp.Code != 50001 || resp.Data == nil {
		t.Errorf("部分失败应返回统计: %s", w.Body.String())
	}
}

func TestAttendanceHandler_Sweep_ClientGone(t *testing.T) {
	sw := &mockSweeperService{result: &dto.SweepResult{FlaggedForReview: []int64{}}}
	r := attendanceRouter(&mockAttendanceService{}, sw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/sweep", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if sw.ctxErr != nil {
		t.Errorf("expected sweep context to outlive the request, got %v", sw.ctxErr)
	}
}

// ═══════════════════════════════════════════════════════════
// ReportHandler Tests
// ═══════════════════════════════════════════════════════════

func TestReportHandler_Overview(t *testing.T) {
	mock := &mockReportService{overviewResult: &dto.OverviewResponse{
		Date:        "2026-03-02",
		Departments: []dto.DepartmentOverview{{DepartmentID: 1, Name: "研发部", AttendanceRate: "50.0%"}},
	}}
	h := NewReportHandler(mock)
	r := gin.New()
	r.GET("/overview", h.Overview)

	w := serve(r, http.MethodGet, "/overview?date=2026-03-02", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"attendance_rate":"50.0%"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	if w := serve(r, http.MethodGet, "/overview?date=bad", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestReportHandler_Export_Success(t *testing.T) {
	mock := &mockReportService{buf: bytes.NewBufferString("xlsx-bytes"), filename: "考勤明细_2026-03-01_2026-03-02.xlsx"}
	h := NewReportHandler(mock)
	r := gin.New()
	r.GET("/export", h.Export)

	w := serve(r, http.MethodGet, "/export?from=2026-03-01&to=2026-03-02", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("unexpected content type: %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment; filename*=UTF-8''") {
		t.Errorf("unexpected disposition: %s", cd)
	}
	if w.Body.String() != "xlsx-bytes" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestReportHandler_Export_Errors(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code int
	}{
		{service.ErrExportRangeTooLong, http.StatusBadRequest, 17003},
		{service.ErrExportInvalidRange, http.StatusBadRequest, 17002},
		{service.ErrExportNoRecords, http.StatusNotFound, 17004},
		{fmt.Errorf("%w: disk full", service.ErrExportGenerateFail), http.StatusInternalServerError, 17005},
		{errors.New("db down"), http.StatusInternalServerError, 50000},
	}
	for _, tt := range tests {
		h := NewReportHandler(&mockReportService{exportErr: tt.err})
		r := gin.New()
		r.GET("/export", h.Export)

		w := serve(r, http.MethodGet, "/export?from=2026-01-01&to=2026-03-01", nil)
		if w.Code != tt.want {
			t.Errorf("err=%v expected %d, got %d", tt.err, tt.want, w.Code)
		}
		if resp := parseResponse(w); resp.Code != tt.code {
			t.Errorf("err=%v expected code %d, got %d", tt.err, tt.code, resp.Code)
		}
	}
}

func TestReportHandler_Export_MissingParams(t *testing.T) {
	h := NewReportHandler(&mockReportService{})
	r := gin.New()
	r.GET("/export", h.Export)

	if w := serve(r, http.MethodGet, "/export?from=2026-01-01", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// QRHandler Tests
// ═══════════════════════════════════════════════════════════

func TestQRHandler_Display(t *testing.T) {
	mock := &mockAttendanceService{displayResult: &dto.DisplayTokenResponse{
		DeviceID: "gate-a", Window: 59000000, Payload: "gate-a|59000000",
	}}
	h := NewQRHandler(mock)
	r := gin.New()
	r.GET("/display", h.Display)

	w := serve(r, http.MethodGet, "/display?device_id=gate-a", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"payload":"gate-a|59000000"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	if w := serve(r, http.MethodGet, "/display", nil); w.Code != http.StatusBadRequest {
		t.Errorf("缺少 device_id 期望 400, got %d", w.Code)
	}

	mock.displayErr = service.ErrInvalidDeviceID
	if w := serve(r, http.MethodGet, "/display?device_id=a%7Cb", nil); w.Code != http.StatusBadRequest {
		t.Errorf("非法 device_id 期望 400, got %d", w.Code)
	}
}

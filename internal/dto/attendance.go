package dto

// ── 考勤打卡 DTO（移动端约定的字段名） ──

// CheckRequest 扫码打卡请求
// 字段不做 binding 校验，缺失值交由业务层给出具体原因
type CheckRequest struct {
	Action string `json:"action"`
	QR     string `json:"qr"`
}

// CheckResponse 打卡结果
type CheckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TodayResponse 今日考勤状态
type TodayResponse struct {
	CheckedIn    bool    `json:"checkedIn"`
	CheckInTime  *string `json:"checkInTime"`
	CheckOutTime *string `json:"checkOutTime"`
	CanCheckIn   bool    `json:"canCheckIn"`
	CanCheckOut  bool    `json:"canCheckOut"`
	Status       string  `json:"status,omitempty"`
}

// HistoryRequest 历史记录查询参数
type HistoryRequest struct {
	Limit int `form:"limit"`
}

// HistoryItem 历史记录条目
type HistoryItem struct {
	Date     string  `json:"date"`
	CheckIn  *string `json:"checkIn"`
	CheckOut *string `json:"checkOut"`
	Status   string  `json:"status"`
}

// ── 管理端 DTO ──

// MarkLeaveRequest 标记请假
type MarkLeaveRequest struct {
	EmployeeID int64  `json:"employee_id" binding:"required,min=1"`
	Date       string `json:"date"        binding:"required,datetime=2006-01-02"`
}

// OverviewRequest 部门出勤概览查询参数
type OverviewRequest struct {
	Date string `form:"date" binding:"omitempty,datetime=2006-01-02"`
}

// DepartmentOverview 部门出勤概览
type DepartmentOverview struct {
	DepartmentID   int64  `json:"department_id"`
	Name           string `json:"name"`
	TotalEmployees int64  `json:"total_employees"`
	Present        int64  `json:"present"`
	Absent         int64  `json:"absent"`
	Late           int64  `json:"late"`
	AttendanceRate string `json:"attendance_rate"`
}

// OverviewResponse 出勤概览
type OverviewResponse struct {
	Date        string               `json:"date"`
	Departments []DepartmentOverview `json:"departments"`
}

// ExportRequest 导出查询参数
type ExportRequest struct {
	From string `form:"from" binding:"required,datetime=2006-01-02"`
	To   string `form:"to"   binding:"required,datetime=2006-01-02"`
}

// DisplayTokenRequest 二维码展示查询参数
type DisplayTokenRequest struct {
	DeviceID string `form:"device_id" binding:"required,max=255"`
}

// DisplayTokenResponse 签到屏当前二维码
type DisplayTokenResponse struct {
	DeviceID   string  `json:"device_id"`
	Window     int64   `json:"window"`
	Payload    string  `json:"payload"`
	ValidUntil string  `json:"valid_until"`
	LastScanAt *string `json:"last_scan_at,omitempty"`
}

// SweepResult 一次对账运行的结果
type SweepResult struct {
	StartedAt        string  `json:"started_at"`
	AutoCheckedOut   int     `json:"auto_checked_out"`
	FlaggedForReview []int64 `json:"flagged_for_review"`
	MarkedAbsent     int     `json:"marked_absent"`
	StaleClosed      int     `json:"stale_closed"`
	Failed           int     `json:"failed"`
	DurationMs       int64   `json:"duration_ms"`
}

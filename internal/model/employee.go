package model

// Employee 员工表，对应 employees
// 考勤只依赖 user_id → employee_id 的映射，其余字段由人事模块维护
type Employee struct {
	EmployeeID   int64       `gorm:"primaryKey;autoIncrement"                json:"employee_id"`
	EmployeeCode string      `gorm:"type:varchar(32);not null;uniqueIndex"   json:"employee_code"`
	UserID       *int64      `gorm:"uniqueIndex"                             json:"user_id,omitempty"`
	DepartmentID *int64      `gorm:"index"                                   json:"department_id,omitempty"`
	JobTitle     string      `gorm:"type:varchar(100)"                       json:"job_title,omitempty"`
	Department   *Department `gorm:"foreignKey:DepartmentID;references:DepartmentID" json:"department,omitempty"`
	BaseModel
}

// TableName 指定表名
func (Employee) TableName() string { return "employees" }

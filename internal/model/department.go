package model

// Department 部门表，对应 departments
type Department struct {
	DepartmentID int64  `gorm:"primaryKey;autoIncrement"   json:"department_id"`
	Name         string `gorm:"type:varchar(100);not null" json:"name"`
	BaseModel
}

// TableName 指定表名
func (Department) TableName() string { return "departments" }

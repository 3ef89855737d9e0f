package domain

import "time"

// LoadSource 构造入口
type LoadSource string

const (
	LoadSourcePath   LoadSource = "path"   // init_from_path
	LoadSourceLoader LoadSource = "loader" // init_from_loader
)

// LoadMode 引擎实际采用的构造方式
type LoadMode string

const (
	LoadModeImages LoadMode = "images" // 内存中的 DEX 镜像
	LoadModePath   LoadMode = "path"   // 磁盘上的 APK/DEX
	LoadModeFailed LoadMode = "failed" // 未能构造，句柄为 0
)

// LoadRecord 引擎构造历史
type LoadRecord struct {
	ID     string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Handle int64      `gorm:"index:idx_handle" json:"handle"`
	Source LoadSource `gorm:"type:varchar(20);not null" json:"source"`
	Mode   LoadMode   `gorm:"type:varchar(20);not null;index:idx_mode" json:"mode"`

	// 输入与结果
	Path       string `gorm:"type:varchar(1024)" json:"path,omitempty"`     // 实际使用的路径（path 入口或 apk 回退）
	ImageCount int    `gorm:"default:0" json:"image_count"`
	DexNum     int    `gorm:"default:0" json:"dex_num"`

	// 类加载器遍历统计
	Elements int `gorm:"default:0" json:"elements"`
	Skipped  int `gorm:"default:0" json:"skipped"`
	Sentinel int `gorm:"default:0" json:"sentinel"`
	Tainted  int `gorm:"default:0" json:"tainted"`

	DurationUs   int64  `json:"duration_us"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	ReleasedAt *time.Time `json:"released_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;index:idx_created_at" json:"created_at"`
}

func (LoadRecord) TableName() string {
	return "dexkit_load_records"
}

package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued     string = "QUEUED"
	JobInProgress string = "IN_PROGRESS"
	JobCompleted  string = "COMPLETED"
	JobFailed     string = "FAILED"
)

type TrainingJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name             string
	EntryPoint       string `gorm:"not null"`
	InstanceType     string `gorm:"size:40;not null"`
	InstanceCount    int    `gorm:"not null;default:1"`
	FrameworkVersion string `gorm:"size:20;not null"`
	ScriptMode       bool

	Hyperparameters datatypes.JSON `gorm:"type:jsonb"` // {"epochs":"10",…}
	InputChannels   datatypes.JSON `gorm:"type:jsonb;not null"`
	OutputPath      string         `gorm:"not null"`
	TensorPath      sql.NullString

	Status        string `gorm:"size:20;not null"`
	FailureReason sql.NullString

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Rules []RuleEvaluation `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type RuleEvaluation struct {
	JobId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	RuleName string    `gorm:"primaryKey"`

	RuleType   string         `gorm:"size:40;not null"`
	Parameters datatypes.JSON `gorm:"type:jsonb"`

	Status  string `gorm:"size:20;not null"`
	Details string
}

package models

import (
	"time"
)

// Generation is the persisted history row of one finished job.
type Generation struct {
	JobID        string     `json:"job_id" db:"job_id"`
	Shop         string     `json:"shop,omitempty" db:"shop"`
	ProductID    string     `json:"product_id" db:"product_id"`
	ImageID      string     `json:"image_id,omitempty" db:"image_id"`
	Vendor       string     `json:"vendor" db:"vendor"`
	Model        string     `json:"model" db:"model"`
	Status       string     `json:"status" db:"status"`
	Prompt       string     `json:"prompt,omitempty" db:"prompt"`
	OutputURL    string     `json:"output_url,omitempty" db:"output_url"`
	HostedURL    string     `json:"hosted_url,omitempty" db:"hosted_url"`
	Credits      int        `json:"credits,omitempty" db:"credits"`
	ErrorKind    string     `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

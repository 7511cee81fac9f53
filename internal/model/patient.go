package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ScanType identifies the kind of diagnostic scan attached to a patient record.
type ScanType string

const (
	ScanTypeBrainCT ScanType = "Brain-ct"
	ScanTypeChestCT ScanType = "Chest-ct"
	ScanTypeHeadMRI ScanType = "Head-mri"
	ScanTypeXRay    ScanType = "X-ray"
)

// EligibleScanType is the only scan type the classification pipeline accepts.
const EligibleScanType = ScanTypeBrainCT

// ClassificationResult is the outcome of a scan classification.
type ClassificationResult string

const (
	ResultPending  ClassificationResult = "Pending"
	ResultHealthy  ClassificationResult = "Healthy"
	ResultTumor    ClassificationResult = "Tumor Detected"
)

var (
	phonePattern = regexp.MustCompile(`^\d{10}$`)
	timePattern  = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)
)

// Patient represents a registered patient record.
// This is a pure domain model with no database-specific dependencies or tags.
// Raw scan bytes are never part of the record; only their metadata is.
type Patient struct {
	ID               string    `json:"id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Age              int       `json:"age"`
	Phone            string    `json:"phone"`
	Gender           string    `json:"gender,omitempty"`
	MedicalHistory   string    `json:"medical_history,omitempty"`
	AppointmentDate  time.Time `json:"appointment_date,omitempty"`
	AppointmentTime  string    `json:"appointment_time,omitempty"`
	ScanType         ScanType  `json:"scan_type"`

	HasScan         bool       `json:"has_scan"`
	ScanFilename    string     `json:"scan_filename,omitempty"`
	ScanContentType string     `json:"scan_content_type,omitempty"`
	ScanSize        int64      `json:"scan_size,omitempty"`
	ScanUploadedAt  *time.Time `json:"scan_uploaded_at,omitempty"`

	// ClassificationResult and ConfidenceScore are always written together:
	// ConfidenceScore is non-nil iff ClassificationResult != ResultPending.
	ClassificationResult ClassificationResult `json:"classification_result"`
	ConfidenceScore      *float64             `json:"confidence_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the patient's full name for notifications and listings.
func (p *Patient) DisplayName() string {
	return p.FirstName + " " + p.LastName
}

// IsClassifiable reports whether the record is in a state the classification
// pipeline accepts: an uploaded scan of the eligible type.
func (p *Patient) IsClassifiable() bool {
	return p.HasScan && p.ScanType == EligibleScanType
}

// ValidScanType reports whether s is one of the known scan types.
func ValidScanType(s ScanType) bool {
	switch s {
	case ScanTypeBrainCT, ScanTypeChestCT, ScanTypeHeadMRI, ScanTypeXRay:
		return true
	}
	return false
}

// Validate checks registration-time field constraints.
// Classification fields are not validated here; they are server-assigned.
func (p *Patient) Validate() error {
	if p.FirstName == "" || p.LastName == "" {
		return errors.New("first and last name are required")
	}
	if p.Age < 0 || p.Age > 150 {
		return fmt.Errorf("age must be between 0 and 150, got %d", p.Age)
	}
	if !phonePattern.MatchString(p.Phone) {
		return errors.New("phone number must be exactly 10 digits")
	}
	if p.AppointmentTime != "" && !timePattern.MatchString(p.AppointmentTime) {
		return errors.New("appointment time must be in 24-hour HH:MM format")
	}
	if !ValidScanType(p.ScanType) {
		return fmt.Errorf("unknown scan type %q", p.ScanType)
	}
	if p.Gender != "" && p.Gender != "Male" && p.Gender != "Female" {
		return fmt.Errorf("unknown gender %q", p.Gender)
	}
	return nil
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"scanapi/internal/classifier"
	"scanapi/internal/model"
	"scanapi/internal/repository"
	"scanapi/internal/storage"
	"scanapi/internal/ws"
)

var (
	ErrValidation  = errors.New("invalid registration data")
	ErrInvalidID   = errors.New("invalid patient id format")
	ErrNotFound    = errors.New("patient not found")
	ErrNotEligible = errors.New("no classifiable scan available")
	ErrBlobMissing = errors.New("scan blob missing from storage")
	ErrPersist     = errors.New("failed to persist classification result")
)

// resultsReadyMessage is the human message delivered on the patient's private
// channel when classification completes.
const resultsReadyMessage = "Your scan results are ready! Please contact your doctor."

// ScanUpload is an incoming scan file attached to a registration.
type ScanUpload struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
}

// RegisterInput carries the registration form fields plus the optional scan.
type RegisterInput struct {
	FirstName       string
	LastName        string
	Age             int
	Phone           string
	Gender          string
	MedicalHistory  string
	AppointmentDate time.Time
	AppointmentTime string
	ScanType        model.ScanType
	Scan            *ScanUpload
}

// ClassifyOutcome is returned to the caller after a successful classification.
type ClassifyOutcome struct {
	PatientID  string  `json:"patientId"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// ScanDownload is a stored scan ready to stream back to a client.
type ScanDownload struct {
	Reader      io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

// Event payloads emitted through the notification hub.
type NewPatientEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ClassificationDoneEvent struct {
	ID         string  `json:"id"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

type ResultsReadyEvent struct {
	ID         string  `json:"id"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

type PatientDeletedEvent struct {
	ID      string         `json:"id"`
	Patient *model.Patient `json:"patient"`
}

// PatientService defines the use cases orchestrating patient records, scan
// blobs, the external classifier, and real-time notifications.
type PatientService interface {
	// Register stores the scan blob (if any) and the record, then broadcasts
	// a newPatient event. The record is always persisted before the event.
	Register(ctx context.Context, in RegisterInput) (*model.Patient, error)

	// List returns all patient records.
	List(ctx context.Context) ([]model.Patient, error)

	// Login looks a patient up by case-insensitive last name and phone.
	Login(ctx context.Context, lastName, phone string) (*model.Patient, error)

	// GetScan streams the stored scan bytes for a patient.
	GetScan(ctx context.Context, id string) (*ScanDownload, error)

	// Classify runs the scan through the external model, persists the outcome,
	// and notifies listeners. Any failure leaves the record's classification
	// fields untouched; callers may simply resubmit.
	Classify(ctx context.Context, id string) (*ClassifyOutcome, error)

	// Delete removes the record and its blob, broadcasts patientDeleted, and
	// returns a snapshot of the removed record.
	Delete(ctx context.Context, id string) (*model.Patient, error)
}

// patientService is the concrete PatientService.
type patientService struct {
	repo       repository.PatientRepository
	store      storage.Storage
	classifier classifier.Classifier
	notifier   ws.Notifier
}

// NewPatientService constructs a PatientService. The notifier is injected so
// the orchestration logic never reaches through ambient state.
func NewPatientService(repo repository.PatientRepository, store storage.Storage, cls classifier.Classifier, notifier ws.Notifier) PatientService {
	return &patientService{repo: repo, store: store, classifier: cls, notifier: notifier}
}

func (s *patientService) Register(ctx context.Context, in RegisterInput) (*model.Patient, error) {
	now := time.Now().UTC()
	p := &model.Patient{
		ID:                   uuid.New().String(),
		FirstName:            in.FirstName,
		LastName:             in.LastName,
		Age:                  in.Age,
		Phone:                in.Phone,
		Gender:               in.Gender,
		MedicalHistory:       in.MedicalHistory,
		AppointmentDate:      in.AppointmentDate,
		AppointmentTime:      in.AppointmentTime,
		ScanType:             in.ScanType,
		ClassificationResult: model.ResultPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if in.Scan != nil {
		info, err := s.store.Put(ctx, p.ID, in.Scan.Reader, storage.PutOptions{
			Size:        in.Scan.Size,
			ContentType: in.Scan.ContentType,
			Filename:    in.Scan.Filename,
		})
		if err != nil {
			return nil, fmt.Errorf("store scan: %w", err)
		}
		p.HasScan = true
		p.ScanFilename = info.Filename
		p.ScanContentType = info.ContentType
		p.ScanSize = info.Size
		uploadedAt := info.UploadedAt
		p.ScanUploadedAt = &uploadedAt
	}

	stored, err := s.repo.Create(ctx, p)
	if err != nil {
		if in.Scan != nil {
			// Rollback: evict the blob so no orphan outlives the failed record.
			if delErr := s.store.Delete(ctx, p.ID); delErr != nil {
				return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
			}
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}

	s.notifier.Broadcast(ws.EventNewPatient, NewPatientEvent{
		ID:   stored.ID,
		Name: stored.DisplayName(),
	})
	return stored, nil
}

func (s *patientService) List(ctx context.Context) ([]model.Patient, error) {
	return s.repo.List(ctx)
}

func (s *patientService) Login(ctx context.Context, lastName, phone string) (*model.Patient, error) {
	if lastName == "" || phone == "" {
		return nil, ErrNotFound
	}
	p, err := s.repo.FindByLastNameAndPhone(ctx, lastName, phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *patientService) GetScan(ctx context.Context, id string) (*ScanDownload, error) {
	p, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.HasScan {
		return nil, ErrNotFound
	}

	rc, info, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ScanDownload{
		Reader:      rc,
		Filename:    info.Filename,
		ContentType: info.ContentType,
		Size:        info.Size,
	}, nil
}

// Classify drives one classification request through its full sequence:
// validate, fetch the blob, invoke the model, persist, notify. Two concurrent
// calls for the same id race benignly; the last successful persist wins.
func (s *patientService) Classify(ctx context.Context, id string) (*ClassifyOutcome, error) {
	// Validating: refuse with no side effects before any external call.
	p, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsClassifiable() {
		return nil, ErrNotEligible
	}

	// Fetching: the metadata flag says a blob exists; its absence is a
	// store/record desync, not a user error.
	rc, info, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, ErrBlobMissing
		}
		return nil, err
	}
	defer rc.Close()

	// Invoking: the classifier applies its own bounded timeout and error
	// taxonomy; both are propagated unchanged. No retry here or below.
	res, err := s.classifier.Classify(ctx, classifier.Blob{
		Reader:      rc,
		Filename:    info.Filename,
		ContentType: info.ContentType,
	})
	if err != nil {
		return nil, err
	}

	// Persisting: result and confidence are written together or not at all.
	updated, err := s.repo.UpdateClassification(ctx, id, model.ClassificationResult(res.Prediction), res.Confidence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	// Notifying: best effort, after the record is durably updated.
	s.notifier.Broadcast(ws.EventClassificationDone, ClassificationDoneEvent{
		ID:         updated.ID,
		Prediction: res.Prediction,
		Confidence: res.Confidence,
	})
	s.notifier.Publish(ws.RoomName(updated.ID), ws.EventResultsReady, ResultsReadyEvent{
		ID:         updated.ID,
		Prediction: res.Prediction,
		Confidence: res.Confidence,
		Message:    resultsReadyMessage,
	})

	return &ClassifyOutcome{
		PatientID:  updated.ID,
		Prediction: res.Prediction,
		Confidence: res.Confidence,
	}, nil
}

func (s *patientService) Delete(ctx context.Context, id string) (*model.Patient, error) {
	p, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}
	// Blob deletion is idempotent; a failure here leaks at most one blob that
	// a re-delete cleans up.
	if err := s.store.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("delete scan blob: %w", err)
	}

	s.notifier.Broadcast(ws.EventPatientDeleted, PatientDeletedEvent{ID: p.ID, Patient: p})
	return p, nil
}

// findByID validates the identifier shape and loads the record.
func (s *patientService) findByID(ctx context.Context, id string) (*model.Patient, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

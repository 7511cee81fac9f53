package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scanapi/internal/classifier"
	clsMocks "scanapi/internal/classifier/mocks"
	"scanapi/internal/model"
	repoMocks "scanapi/internal/repository/mocks"
	"scanapi/internal/storage"
	storeMocks "scanapi/internal/storage/mocks"
	"scanapi/internal/ws"
	wsMocks "scanapi/internal/ws/mocks"
)

const validID = "0b36a33c-6a87-41cf-9b4f-7e3be13a6d55"

type deps struct {
	repo     *repoMocks.MockPatientRepository
	store    *storeMocks.MockStorage
	cls      *clsMocks.MockClassifier
	notifier *wsMocks.MockNotifier
}

func newService() (PatientService, *deps) {
	d := &deps{
		repo:     new(repoMocks.MockPatientRepository),
		store:    new(storeMocks.MockStorage),
		cls:      new(clsMocks.MockClassifier),
		notifier: new(wsMocks.MockNotifier),
	}
	return NewPatientService(d.repo, d.store, d.cls, d.notifier), d
}

func registeredPatient() *model.Patient {
	return &model.Patient{
		ID:                   validID,
		FirstName:            "Jane",
		LastName:             "Doe",
		Age:                  34,
		Phone:                "5551234567",
		ScanType:             model.ScanTypeBrainCT,
		HasScan:              true,
		ScanFilename:         "scan.png",
		ScanContentType:      "image/png",
		ScanSize:             2048,
		ClassificationResult: model.ResultPending,
	}
}

func validInput() RegisterInput {
	return RegisterInput{
		FirstName:       "Jane",
		LastName:        "Doe",
		Age:             34,
		Phone:           "5551234567",
		AppointmentTime: "14:30",
		ScanType:        model.ScanTypeBrainCT,
	}
}

func TestPatientService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("with scan: blob stored, record saved, newPatient broadcast", func(t *testing.T) {
		svc, d := newService()
		in := validInput()
		in.Scan = &ScanUpload{
			Reader:      strings.NewReader("scan bytes"),
			Filename:    "scan.png",
			ContentType: "image/png",
			Size:        10,
		}

		d.store.On("Put", ctx, mock.AnythingOfType("string"), in.Scan.Reader, storage.PutOptions{
			Size:        10,
			ContentType: "image/png",
			Filename:    "scan.png",
		}).Return(func(ctx context.Context, patientID string, r io.Reader, opt storage.PutOptions) storage.BlobInfo {
			return storage.BlobInfo{PatientID: patientID, Size: 10, ContentType: opt.ContentType, Filename: opt.Filename}
		}, nil)

		d.repo.On("Create", ctx, mock.MatchedBy(func(p *model.Patient) bool {
			return p.HasScan && p.ScanFilename == "scan.png" &&
				p.ClassificationResult == model.ResultPending && p.ConfidenceScore == nil
		})).Return(registeredPatient(), nil)

		d.notifier.On("Broadcast", ws.EventNewPatient, NewPatientEvent{ID: validID, Name: "Jane Doe"}).Return()

		got, err := svc.Register(ctx, in)

		require.NoError(t, err)
		assert.Equal(t, validID, got.ID)
		d.store.AssertExpectations(t)
		d.repo.AssertExpectations(t)
		d.notifier.AssertExpectations(t)
	})

	t.Run("without scan: storage untouched", func(t *testing.T) {
		svc, d := newService()

		p := registeredPatient()
		p.HasScan = false
		d.repo.On("Create", ctx, mock.MatchedBy(func(p *model.Patient) bool {
			return !p.HasScan
		})).Return(p, nil)
		d.notifier.On("Broadcast", ws.EventNewPatient, mock.Anything).Return()

		_, err := svc.Register(ctx, validInput())

		require.NoError(t, err)
		d.store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("validation failure: no side effects", func(t *testing.T) {
		svc, d := newService()
		in := validInput()
		in.Phone = "123"

		_, err := svc.Register(ctx, in)

		assert.ErrorIs(t, err, ErrValidation)
		d.store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		d.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		d.notifier.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
	})

	t.Run("record save failure rolls back the blob", func(t *testing.T) {
		svc, d := newService()
		in := validInput()
		in.Scan = &ScanUpload{Reader: strings.NewReader("bytes"), Filename: "scan.png", ContentType: "image/png", Size: 5}

		d.store.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.BlobInfo{Filename: "scan.png"}, nil)
		d.repo.On("Create", ctx, mock.Anything).Return(nil, errors.New("db fail"))
		d.store.On("Delete", ctx, mock.AnythingOfType("string")).Return(nil)

		_, err := svc.Register(ctx, in)

		assert.ErrorContains(t, err, "db save failed: db fail")
		d.store.AssertCalled(t, "Delete", ctx, mock.AnythingOfType("string"))
		d.notifier.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
	})

	t.Run("rollback failure is reported alongside the save failure", func(t *testing.T) {
		svc, d := newService()
		in := validInput()
		in.Scan = &ScanUpload{Reader: strings.NewReader("bytes"), Filename: "scan.png", ContentType: "image/png", Size: 5}

		d.store.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.BlobInfo{}, nil)
		d.repo.On("Create", ctx, mock.Anything).Return(nil, errors.New("db fail"))
		d.store.On("Delete", ctx, mock.Anything).Return(errors.New("delete fail"))

		_, err := svc.Register(ctx, in)

		assert.ErrorContains(t, err, "rollback delete failed: delete fail")
	})
}

func TestPatientService_Classify(t *testing.T) {
	ctx := context.Background()

	scanBlob := func() (io.ReadCloser, storage.BlobInfo, error) {
		return io.NopCloser(strings.NewReader("scan bytes")),
			storage.BlobInfo{PatientID: validID, Filename: "scan.png", ContentType: "image/png", Size: 10},
			nil
	}

	t.Run("happy path: persists then notifies", func(t *testing.T) {
		svc, d := newService()
		conf := 0.87

		d.repo.On("FindByID", ctx, validID).Return(registeredPatient(), nil)
		rc, info, _ := scanBlob()
		d.store.On("Get", ctx, validID).Return(rc, info, nil)
		d.cls.On("Classify", ctx, mock.MatchedBy(func(b classifier.Blob) bool {
			return b.Filename == "scan.png" && b.ContentType == "image/png"
		})).Return(&classifier.Result{Prediction: "Tumor Detected", Confidence: conf}, nil)

		updated := registeredPatient()
		updated.ClassificationResult = model.ResultTumor
		updated.ConfidenceScore = &conf
		d.repo.On("UpdateClassification", ctx, validID, model.ResultTumor, conf).Return(updated, nil)

		d.notifier.On("Broadcast", ws.EventClassificationDone, ClassificationDoneEvent{
			ID: validID, Prediction: "Tumor Detected", Confidence: conf,
		}).Return()
		d.notifier.On("Publish", "patient_"+validID, ws.EventResultsReady, ResultsReadyEvent{
			ID: validID, Prediction: "Tumor Detected", Confidence: conf,
			Message: "Your scan results are ready! Please contact your doctor.",
		}).Return()

		out, err := svc.Classify(ctx, validID)

		require.NoError(t, err)
		assert.Equal(t, validID, out.PatientID)
		assert.Equal(t, "Tumor Detected", out.Prediction)
		assert.Equal(t, conf, out.Confidence)
		d.repo.AssertExpectations(t)
		d.notifier.AssertExpectations(t)
	})

	t.Run("malformed id", func(t *testing.T) {
		svc, d := newService()

		_, err := svc.Classify(ctx, "not-a-uuid")

		assert.ErrorIs(t, err, ErrInvalidID)
		d.repo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("unknown id", func(t *testing.T) {
		svc, d := newService()
		d.repo.On("FindByID", ctx, validID).Return(nil, sql.ErrNoRows)

		_, err := svc.Classify(ctx, validID)

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ineligible scan type never mutates the record", func(t *testing.T) {
		svc, d := newService()
		p := registeredPatient()
		p.ScanType = model.ScanTypeXRay
		d.repo.On("FindByID", ctx, validID).Return(p, nil)

		_, err := svc.Classify(ctx, validID)

		assert.ErrorIs(t, err, ErrNotEligible)
		d.store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
		d.repo.AssertNotCalled(t, "UpdateClassification", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no scan uploaded", func(t *testing.T) {
		svc, d := newService()
		p := registeredPatient()
		p.HasScan = false
		d.repo.On("FindByID", ctx, validID).Return(p, nil)

		_, err := svc.Classify(ctx, validID)

		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("metadata flag set but blob gone", func(t *testing.T) {
		svc, d := newService()
		d.repo.On("FindByID", ctx, validID).Return(registeredPatient(), nil)
		d.store.On("Get", ctx, validID).Return(nil, storage.BlobInfo{}, storage.ErrBlobNotFound)

		_, err := svc.Classify(ctx, validID)

		assert.ErrorIs(t, err, ErrBlobMissing)
		d.repo.AssertNotCalled(t, "UpdateClassification", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("upstream failure propagates unchanged, record untouched", func(t *testing.T) {
		svc, d := newService()
		d.repo.On("FindByID", ctx, validID).Return(registeredPatient(), nil)
		rc, info, _ := scanBlob()
		d.store.On("Get", ctx, validID).Return(rc, info, nil)
		d.cls.On("Classify", ctx, mock.Anything).Return(nil, classifier.ErrUpstreamUnavailable)

		_, err := svc.Classify(ctx, validID)

		assert.ErrorIs(t, err, classifier.ErrUpstreamUnavailable)
		d.repo.AssertNotCalled(t, "UpdateClassification", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		d.notifier.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
	})

	t.Run("upstream rejection keeps status and detail", func(t *testing.T) {
		svc, d := newService()
		d.repo.On("FindByID", ctx, validID).Return(registeredPatient(), nil)
		rc, info, _ := scanBlob()
		d.store.On("Get", ctx, validID).Return(rc, info, nil)
		d.cls.On("Classify", ctx, mock.Anything).
			Return(nil, &classifier.UpstreamError{StatusCode: 400, Detail: "not an image"})

		_, err := svc.Classify(ctx, validID)

		var upErr *classifier.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, 400, upErr.StatusCode)
	})

	t.Run("persist failure discards the outcome", func(t *testing.T) {
		svc, d := newService()
		d.repo.On("FindByID", ctx, validID).Return(registeredPatient(), nil)
		rc, info, _ := scanBlob()
		d.store.On("Get", ctx, validID).Return(rc, info, nil)
		d.cls.On("Classify", ctx, mock.Anything).
			Return(&classifier.Result{Prediction: "Healthy", Confidence: 0.93}, nil)
		d.repo.On("UpdateClassification", ctx, validID, model.ResultHealthy, 0.93).
			Return(nil, errors.New("write failed"))

		_, err := svc.Classify(ctx, validID)

		assert.ErrorIs(t, err, ErrPersist)
		d.notifier.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
		d.notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestPatientService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes record and blob, then broadcasts", func(t *testing.T) {
		svc, d := newService()
		p := registeredPatient()

		d.repo.On("FindByID", ctx, validID).Return(p, nil)
		d.repo.On("Delete", ctx, validID).Return(nil)
		d.store.On("Delete", ctx, validID).Return(nil)
		d.notifier.On("Broadcast", ws.EventPatientDeleted, PatientDeletedEvent{ID: validID, Patient: p}).Return()

		got, err := svc.Delete(ctx, validID)

		require.NoError(t, err)
		assert.Equal(t, p, got)
		d.notifier.AssertExpectations(t)
	})

	t.Run("unknown id", func(t *testing.T) {
		svc, d := newService()
		d.repo.On("FindByID", ctx, validID).Return(nil, sql.ErrNoRows)

		_, err := svc.Delete(ctx, validID)

		assert.ErrorIs(t, err, ErrNotFound)
		d.repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("malformed id", func(t *testing.T) {
		svc, _ := newService()
		_, err := svc.Delete(ctx, "xyz")
		assert.ErrorIs(t, err, ErrInvalidID)
	})
}

func TestPatientService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		svc, d := newService()
		p := registeredPatient()
		d.repo.On("FindByLastNameAndPhone", ctx, "doe", "5551234567").Return(p, nil)

		got, err := svc.Login(ctx, "doe", "5551234567")

		require.NoError(t, err)
		assert.Equal(t, "Doe", got.LastName)
	})

	t.Run("no match", func(t *testing.T) {
		svc, d := newService()
		d.repo.On("FindByLastNameAndPhone", ctx, "doe", "0000000000").Return(nil, sql.ErrNoRows)

		_, err := svc.Login(ctx, "doe", "0000000000")

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty credentials", func(t *testing.T) {
		svc, d := newService()

		_, err := svc.Login(ctx, "", "")

		assert.ErrorIs(t, err, ErrNotFound)
		d.repo.AssertNotCalled(t, "FindByLastNameAndPhone", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestPatientService_GetScan(t *testing.T) {
	ctx := context.Background()

	t.Run("streams stored bytes", func(t *testing.T) {
		svc, d := newService()
		d.repo.On("FindByID", ctx, validID).Return(registeredPatient(), nil)
		d.store.On("Get", ctx, validID).Return(
			io.NopCloser(strings.NewReader("scan bytes")),
			storage.BlobInfo{Filename: "scan.png", ContentType: "image/png", Size: 10},
			nil,
		)

		got, err := svc.GetScan(ctx, validID)

		require.NoError(t, err)
		defer got.Reader.Close()
		data, _ := io.ReadAll(got.Reader)
		assert.Equal(t, "scan bytes", string(data))
		assert.Equal(t, "image/png", got.ContentType)
	})

	t.Run("record without scan", func(t *testing.T) {
		svc, d := newService()
		p := registeredPatient()
		p.HasScan = false
		d.repo.On("FindByID", ctx, validID).Return(p, nil)

		_, err := svc.GetScan(ctx, validID)

		assert.ErrorIs(t, err, ErrNotFound)
		d.store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("blob gone after delete", func(t *testing.T) {
		svc, d := newService()
		d.repo.On("FindByID", ctx, validID).Return(registeredPatient(), nil)
		d.store.On("Get", ctx, validID).Return(nil, storage.BlobInfo{}, storage.ErrBlobNotFound)

		_, err := svc.GetScan(ctx, validID)

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

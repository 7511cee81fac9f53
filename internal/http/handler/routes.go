package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"scanapi/internal/classifier"
	"scanapi/internal/model"
	"scanapi/internal/service"
)

// MaxScanSize caps uploaded scan images at 10 MiB.
const MaxScanSize = 10 << 20

const dateLayout = "2006-01-02"

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers stay thin: parse, delegate to the service, translate errors.
func RegisterRoutes(app *fiber.App, db *sql.DB, patientSvc service.PatientService, redirectURL string) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	app.Get("/patients", ListPatients(patientSvc))
	app.Post("/NewRegistration", NewRegistration(patientSvc, redirectURL))
	app.Post("/Classify/:id", ClassifyScan(patientSvc))
	app.Delete("/delete/:id", DeletePatient(patientSvc))
	app.Post("/patientlogin", PatientLogin(patientSvc))
	app.Get("/scan/:id", GetScan(patientSvc))
}

// HealthCheck reports readiness: healthy only when the database answers a ping.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe answers 200 unconditionally.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ListPatients returns every patient record.
func ListPatients(svc service.PatientService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		patients, err := svc.List(c.UserContext())
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(patients)
	}
}

// NewRegistration handles the intake form (multipart/form-data). Field names
// mirror what the clinic frontend posts; the scan image itself is optional.
// On success the browser is redirected to the patient records page.
func NewRegistration(svc service.PatientService, redirectURL string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		in, closeScan, err := parseRegistrationForm(c)
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return writeError(c, fe.Code, registrationCode(fe.Code), fe.Message)
			}
			return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		}
		defer closeScan()

		if _, err := svc.Register(c.UserContext(), *in); err != nil {
			if errors.Is(err, service.ErrValidation) {
				return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid registration data")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Redirect(redirectURL, fiber.StatusFound)
	}
}

// ClassifyScan runs the model against a patient's stored scan.
func ClassifyScan(svc service.PatientService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		out, err := svc.Classify(c.UserContext(), c.Params("id"))
		if err != nil {
			return classifyError(c, err)
		}
		return c.JSON(fiber.Map{
			"success":    true,
			"prediction": out.Prediction,
			"confidence": out.Confidence,
			"patientId":  out.PatientID,
		})
	}
}

// DeletePatient removes the record and its scan blob.
func DeletePatient(svc service.PatientService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := svc.Delete(c.UserContext(), c.Params("id"))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidID):
				return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "patient not found")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.JSON(fiber.Map{
			"message": "patient deleted",
			"patient": p,
		})
	}
}

// PatientLogin looks a patient up by last name and phone for the results portal.
func PatientLogin(svc service.PatientService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			LastName string `json:"LastName"`
			Phone    string `json:"Phone"`
		}
		if err := c.BodyParser(&body); err != nil {
			return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "malformed request body")
		}
		p, err := svc.Login(c.UserContext(), body.LastName, body.Phone)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "no matching patient")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(fiber.Map{"patient": p})
	}
}

// GetScan streams a patient's stored scan image.
func GetScan(svc service.PatientService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dl, err := svc.GetScan(c.UserContext(), c.Params("id"))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidID):
				return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "scan not found")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		c.Set(fiber.HeaderContentType, dl.ContentType)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", dl.Filename))
		return c.SendStream(dl.Reader, int(dl.Size))
	}
}

// parseRegistrationForm decodes the intake form into a service input. The
// returned closer releases the multipart scan file once Register has consumed
// it; it is a no-op when no scan was attached.
func parseRegistrationForm(c *fiber.Ctx) (*service.RegisterInput, func(), error) {
	noop := func() {}

	age, err := strconv.Atoi(strings.TrimSpace(c.FormValue("Patientage")))
	if err != nil {
		return nil, noop, errors.New("age must be a whole number")
	}

	in := &service.RegisterInput{
		FirstName:       strings.TrimSpace(c.FormValue("Patientfirstname")),
		LastName:        strings.TrimSpace(c.FormValue("Patientlastname")),
		Age:             age,
		Phone:           strings.TrimSpace(c.FormValue("patientphone")),
		Gender:          c.FormValue("gender"),
		MedicalHistory:  c.FormValue("patientmedicalhistory"),
		AppointmentTime: strings.TrimSpace(c.FormValue("patientappointmenttime")),
		ScanType:        model.ScanType(c.FormValue("Patientscanoption")),
	}

	if raw := strings.TrimSpace(c.FormValue("patientappointmentdate")); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, noop, errors.New("appointment date must be YYYY-MM-DD")
		}
		in.AppointmentDate = d
	}

	fh, err := c.FormFile("patient-scan")
	if err != nil {
		// No scan attached. Registration proceeds without one.
		return in, noop, nil
	}
	if fh.Size > MaxScanSize {
		return nil, noop, fiber.NewError(fiber.StatusRequestEntityTooLarge, "scan image exceeds the 10 MiB limit")
	}
	ct := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		return nil, noop, fiber.NewError(fiber.StatusUnsupportedMediaType, "scan must be an image")
	}

	f, err := fh.Open()
	if err != nil {
		return nil, noop, errors.New("cannot open uploaded file")
	}
	in.Scan = &service.ScanUpload{
		Reader:      f,
		Filename:    fh.Filename,
		ContentType: ct,
		Size:        fh.Size,
	}
	return in, func() { f.Close() }, nil
}

func registrationCode(status int) string {
	switch status {
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusUnsupportedMediaType:
		return "UNSUPPORTED_MEDIA_TYPE"
	default:
		return "VALIDATION_ERROR"
	}
}

func classifyError(c *fiber.Ctx, err error) error {
	var upErr *classifier.UpstreamError
	switch {
	case errors.Is(err, service.ErrInvalidID):
		return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "patient not found")
	case errors.Is(err, service.ErrNotEligible):
		return writeError(c, fiber.StatusBadRequest, "NOT_ELIGIBLE", "patient has no classifiable scan")
	case errors.Is(err, service.ErrBlobMissing):
		return writeError(c, fiber.StatusInternalServerError, "BLOB_MISSING", "stored scan is missing")
	case errors.Is(err, service.ErrPersist):
		return writeError(c, fiber.StatusInternalServerError, "PERSIST_ERROR", "could not save classification result")
	case errors.As(err, &upErr):
		return writeUpstreamError(c, upErr.StatusCode, "UPSTREAM_REJECTED", "model API rejected the scan", upErr.Detail)
	case errors.Is(err, classifier.ErrUpstreamUnavailable):
		return writeError(c, fiber.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "model API unavailable")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// Package repository contains data access layer abstractions.
// Implementations live in subpackages (e.g., postgres) inside this directory.
package repository

import (
	"context"

	"scanapi/internal/model"
)

// PatientRepository defines data access for patient records using SQL queries only.
// No business logic here — strictly persistence operations.
//
// Implementations apply the encryption-at-rest codec to protected fields on
// write and remove it on read; callers only ever see plaintext records.
type PatientRepository interface {
	// Create inserts a new patient record and returns the stored row.
	Create(ctx context.Context, p *model.Patient) (*model.Patient, error)

	// FindByID returns a patient by its ID.
	FindByID(ctx context.Context, id string) (*model.Patient, error)

	// FindByLastNameAndPhone looks a patient up by case-insensitive last name
	// and exact phone number, the patient-login natural key.
	FindByLastNameAndPhone(ctx context.Context, lastName, phone string) (*model.Patient, error)

	// List returns all patient records, newest first.
	List(ctx context.Context) ([]model.Patient, error)

	// UpdateClassification overwrites the classification result and confidence
	// score in a single statement so both fields change together, and returns
	// the updated row.
	UpdateClassification(ctx context.Context, id string, result model.ClassificationResult, confidence float64) (*model.Patient, error)

	// Delete removes a patient by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id string) error
}

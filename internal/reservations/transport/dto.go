package transport

import (
	"time"

	"github.com/google/uuid"
)

type VehicleDTO struct {
	Make  string `json:"make,omitempty" validate:"max=60"`
	Model string `json:"model,omitempty" validate:"max=60"`
	Year  int    `json:"year,omitempty" validate:"omitempty,min=1900,max=2100"`
	VIN   string `json:"vin" validate:"required,len=17,alphanum"`
}

// Request DTOs
type CreateReservationRequest struct {
	PipelineID   uuid.UUID  `json:"pipelineId" validate:"required"`
	Vehicle      VehicleDTO `json:"vehicle"`
	DepositCents int64      `json:"depositCents" validate:"min=0"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Notes        string     `json:"notes,omitempty" validate:"max=2000"`
}

type ChangeStatusRequest struct {
	Status          string `json:"status" validate:"required,reservation_status"`
	Reason          string `json:"reason,omitempty" validate:"max=500"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`
}

// Response DTOs
type ReservationResponse struct {
	ID              uuid.UUID  `json:"id"`
	PipelineID      uuid.UUID  `json:"pipelineId"`
	Vehicle         VehicleDTO `json:"vehicle"`
	DepositCents    int64      `json:"depositCents"`
	Status          string     `json:"status"`
	StatusReason    string     `json:"statusReason,omitempty"`
	Expired         bool       `json:"expired"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StatusChangedAt time.Time  `json:"statusChangedAt"`
	Version         int        `json:"version"`
}

package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	bookingDomain "github.com/rescuelink/service-dispatch/internal/domain/booking"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	"github.com/rescuelink/service-dispatch/internal/geo"
)

// LocationDTO is an address with coordinates.
type LocationDTO struct {
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PatientDTO describes the person who needs the ambulance.
type PatientDTO struct {
	Name         string `json:"name" binding:"required"`
	Age          *int   `json:"age"`
	Contact      string `json:"contact" binding:"required"`
	MedicalNotes string `json:"medical_notes"`
}

// CreateBookingRequest holds the data needed to file an emergency booking.
type CreateBookingRequest struct {
	EmergencyType string       `json:"emergency_type" binding:"required"`
	Patient       PatientDTO   `json:"patient"`
	Pickup        LocationDTO  `json:"pickup"`
	Dropoff       *LocationDTO `json:"dropoff"`
}

// BookingDTO is the response representation of a booking.
type BookingDTO struct {
	ID            uuid.UUID                    `json:"id"`
	Reference     string                       `json:"reference"`
	RequesterID   *uuid.UUID                   `json:"requester_id,omitempty"`
	Status        string                       `json:"status"`
	EmergencyType string                       `json:"emergency_type"`
	Patient       PatientDTO                   `json:"patient"`
	Pickup        LocationDTO                  `json:"pickup"`
	Dropoff       *LocationDTO                 `json:"dropoff,omitempty"`
	AmbulanceID   *uuid.UUID                   `json:"ambulance_id,omitempty"`
	RouteEstimate *bookingDomain.RouteEstimate `json:"route_estimate,omitempty"`
	Dispatch      bookingDomain.DispatchState  `json:"dispatch"`
	AcceptedAt    *time.Time                   `json:"accepted_at,omitempty"`
	ArrivedAt     *time.Time                   `json:"arrived_at,omitempty"`
	CompletedAt   *time.Time                   `json:"completed_at,omitempty"`
	CancelledAt   *time.Time                   `json:"cancelled_at,omitempty"`
	CancelReason  string                       `json:"cancel_reason,omitempty"`
	Version       int64                        `json:"version"`
	CreatedAt     time.Time                    `json:"created_at"`
	UpdatedAt     time.Time                    `json:"updated_at"`
}

// PositionDTO is a reported ambulance position.
type PositionDTO struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AmbulanceDTO is the response representation of an ambulance.
type AmbulanceDTO struct {
	ID            uuid.UUID    `json:"id"`
	VehicleNumber string       `json:"vehicle_number"`
	DriverID      *uuid.UUID   `json:"driver_id,omitempty"`
	DriverName    string       `json:"driver_name"`
	DriverContact string       `json:"driver_contact"`
	Status        string       `json:"status"`
	LastPosition  *PositionDTO `json:"last_position,omitempty"`
	DistanceKm    *float64     `json:"distance_km,omitempty"`
	Version       int64        `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// AssignmentDTO describes a committed dispatch.
type AssignmentDTO struct {
	BookingID        uuid.UUID `json:"booking_id"`
	Reference        string    `json:"reference"`
	AmbulanceID      uuid.UUID `json:"ambulance_id"`
	VehicleNumber    string    `json:"vehicle_number"`
	DistanceMeters   float64   `json:"distance_meters"`
	DurationSeconds  float64   `json:"duration_seconds"`
	EstimatedArrival time.Time `json:"estimated_arrival"`
	Candidates       int       `json:"candidates"`
	Routed           int       `json:"routed"`
}

// DispatchStatsDTO holds booking counts for the operator dashboard.
type DispatchStatsDTO struct {
	TotalBookings  int64            `json:"total_bookings"`
	ByStatus       map[string]int64 `json:"by_status"`
	QueueDepth     int              `json:"queue_depth"`
	AvailableFleet int              `json:"available_fleet"`
}

func toBookingDTO(bk *bookingDomain.Booking) BookingDTO {
	patient := bk.Patient()
	pickup := bk.Pickup()
	dto := BookingDTO{
		ID:            bk.ID(),
		Reference:     bk.Reference(),
		RequesterID:   bk.RequesterID(),
		Status:        string(bk.Status()),
		EmergencyType: string(bk.EmergencyType()),
		Patient: PatientDTO{
			Name:         patient.Name,
			Age:          patient.Age,
			Contact:      patient.Contact,
			MedicalNotes: patient.MedicalNotes,
		},
		Pickup:        LocationDTO(pickup),
		AmbulanceID:   bk.AmbulanceID(),
		RouteEstimate: bk.RouteEstimate(),
		Dispatch:      bk.Dispatch(),
		AcceptedAt:    bk.AcceptedAt(),
		ArrivedAt:     bk.ArrivedAt(),
		CompletedAt:   bk.CompletedAt(),
		CancelledAt:   bk.CancelledAt(),
		CancelReason:  bk.CancelReason(),
		Version:       bk.Version(),
		CreatedAt:     bk.CreatedAt(),
		UpdatedAt:     bk.UpdatedAt(),
	}
	if d := bk.Dropoff(); d != nil {
		loc := LocationDTO(*d)
		dto.Dropoff = &loc
	}
	return dto
}

func toBookingDTOs(bookings []*bookingDomain.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk)
	}
	return dtos
}

func toAmbulanceDTO(a *ambulance.Ambulance, pos *tracking.Position) AmbulanceDTO {
	dto := AmbulanceDTO{
		ID:            a.ID(),
		VehicleNumber: a.VehicleNumber(),
		DriverID:      a.DriverID(),
		DriverName:    a.DriverName(),
		DriverContact: a.DriverContact(),
		Status:        string(a.Status()),
		Version:       a.Version(),
		CreatedAt:     a.CreatedAt(),
		UpdatedAt:     a.UpdatedAt(),
	}
	if pos != nil {
		dto.LastPosition = toPositionDTO(*pos)
	}
	return dto
}

func toPositionDTO(p tracking.Position) *PositionDTO {
	return &PositionDTO{
		Latitude:   p.Coordinates.Lat,
		Longitude:  p.Coordinates.Lng,
		RecordedAt: p.RecordedAt,
	}
}

func (l LocationDTO) coordinates() geo.Coordinates {
	return geo.Coordinates{Lat: l.Latitude, Lng: l.Longitude}
}

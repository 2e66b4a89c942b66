package booking

// EmergencyType classifies the reported emergency.
type EmergencyType string

const (
	EmergencyCardiac     EmergencyType = "cardiac"
	EmergencyTrauma      EmergencyType = "trauma"
	EmergencyRespiratory EmergencyType = "respiratory"
	EmergencyStroke      EmergencyType = "stroke"
	EmergencyMaternity   EmergencyType = "maternity"
	EmergencyOther       EmergencyType = "other"
)

var validEmergencyTypes = map[EmergencyType]bool{
	EmergencyCardiac:     true,
	EmergencyTrauma:      true,
	EmergencyRespiratory: true,
	EmergencyStroke:      true,
	EmergencyMaternity:   true,
	EmergencyOther:       true,
}

// IsValid returns true if the emergency type is recognized.
func (e EmergencyType) IsValid() bool {
	return validEmergencyTypes[e]
}

// PatientDetails is a value object describing the patient being collected.
type PatientDetails struct {
	Name         string `json:"name"`
	Age          *int   `json:"age,omitempty"`
	Contact      string `json:"contact"`
	MedicalNotes string `json:"medical_notes,omitempty"`
}

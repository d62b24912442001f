package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// TrustPolicy maintains a patient's no-show streak and block flag as a side
// effect of terminal lifecycle outcomes. Cancellations do not touch the
// counter either way, and unblocking is an administrative action elsewhere.
type TrustPolicy struct {
	patients       PatientRepository
	blockThreshold int
}

func NewTrustPolicy(patients PatientRepository, blockThreshold int) *TrustPolicy {
	return &TrustPolicy{patients: patients, blockThreshold: blockThreshold}
}

// OnNoShow increments the streak and blocks the patient once it reaches the
// threshold.
func (p *TrustPolicy) OnNoShow(ctx context.Context, patientID uuid.UUID) error {
	patient, err := p.patients.GetPatientByID(ctx, patientID)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}

	streak := patient.ConsecutiveNoShows + 1
	blocked := patient.IsBlocked
	reason := patient.BlockedReason

	if !blocked && streak >= p.blockThreshold {
		blocked = true
		r := fmt.Sprintf("blocked after %d consecutive no-shows", streak)
		reason = &r
	}

	if err := p.patients.UpdatePatientTrust(ctx, patientID, streak, blocked, reason); err != nil {
		return fmt.Errorf("record no-show: %w", err)
	}
	return nil
}

// OnCompleted resets the streak; a successful visit clears the slate. The
// block flag is left alone, unblocking is not self-service.
func (p *TrustPolicy) OnCompleted(ctx context.Context, patientID uuid.UUID) error {
	patient, err := p.patients.GetPatientByID(ctx, patientID)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}
	if patient.ConsecutiveNoShows == 0 {
		return nil
	}
	if err := p.patients.UpdatePatientTrust(ctx, patientID, 0, patient.IsBlocked, patient.BlockedReason); err != nil {
		return fmt.Errorf("reset no-show streak: %w", err)
	}
	return nil
}

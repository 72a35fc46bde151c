// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jackframe

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyUnknownCommand AnomalyType = iota
	AnomalyLengthMismatch
	AnomalyMissingSeq
	AnomalyInvalidValue
	AnomalyRejected
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Force range a leg-state push may carry (N)
const maxReportedForce = 5000.0

// ValidateFrame checks frame structure and detects anomalies.
// Returns a slice of validation errors (empty if the frame is valid).
func ValidateFrame(f *Frame) []ValidationError {
	errors := []ValidationError{}

	if !IsKnownCommand(f.cmd) {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownCommand,
			Message: fmt.Sprintf("Unknown command 0x%02X", f.cmd),
			Details: map[string]interface{}{"cmd": f.cmd},
		})
	}

	switch {
	case f.IsAck():
		errors = append(errors, validateAck(f)...)
	case f.cmd == PushPose:
		if len(f.payload) != posePayloadSize {
			errors = append(errors, lengthMismatch("PUSH_POSE", len(f.payload), posePayloadSize))
		}
	case f.cmd == PushLegState:
		errors = append(errors, validateLegState(f)...)
	case !f.IsPush():
		if len(f.payload) == 0 {
			errors = append(errors, ValidationError{
				Type:    AnomalyMissingSeq,
				Message: fmt.Sprintf("%s carries no sequence number", FormatCommand(f.cmd)),
			})
		}
	}

	return errors
}

func lengthMismatch(name string, got, want int) ValidationError {
	return ValidationError{
		Type:    AnomalyLengthMismatch,
		Message: fmt.Sprintf("%s payload length %d (expected %d)", name, got, want),
		Details: map[string]interface{}{"length": got, "expected": want},
	}
}

func validateAck(f *Frame) []ValidationError {
	ack, err := ParseAck(f.payload)
	if err != nil {
		return []ValidationError{lengthMismatch(FormatCommand(f.cmd), len(f.payload), 2)}
	}

	errors := []ValidationError{}
	if ack.Seq == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: "ACK carries reserved sequence number 0",
		})
	}
	if ack.Status > StatusBusy {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid status value=%d (max %d)", ack.Status, StatusBusy),
			Details: map[string]interface{}{"status": ack.Status},
		})
	} else if ack.Status != StatusOK {
		errors = append(errors, ValidationError{
			Type:    AnomalyRejected,
			Message: fmt.Sprintf("%s status %s", FormatCommand(f.cmd), FormatStatus(ack.Status)),
			Details: map[string]interface{}{"status": ack.Status},
		})
	}
	return errors
}

func validateLegState(f *Frame) []ValidationError {
	reports, err := ParseLegState(f.payload)
	if err != nil {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: err.Error(),
			Details: map[string]interface{}{"length": len(f.payload)},
		}}
	}

	errors := []ValidationError{}
	for _, r := range reports {
		if r.ID < 1 || r.ID > MaxBatchLegs {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Invalid leg id=%d", r.ID),
				Details: map[string]interface{}{"leg": r.ID},
			})
		}
		if r.Force > maxReportedForce {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Leg %d force=%.1f N out of range", r.ID, r.Force),
				Details: map[string]interface{}{"leg": r.ID, "force": r.Force},
			})
		}
	}
	return errors
}

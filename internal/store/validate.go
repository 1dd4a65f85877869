package store

import "flashnotes/engine/internal/engine"

// Identifier bounds. Block and document ids come from the editor and
// are rejected before any SQL runs when malformed.
const maxIdentifierLen = 255

func validateIdentifier(field, value string) error {
	if value == "" {
		return engine.Validationf(field, "must not be empty")
	}
	if len(value) > maxIdentifierLen {
		return engine.Validationf(field, "exceeds %d bytes", maxIdentifierLen)
	}
	return nil
}

func validatePositiveID(field string, id int64) error {
	if id <= 0 {
		return engine.Validationf(field, "must be a positive integer, got %d", id)
	}
	return nil
}

func validateEntityType(t engine.ObjectType) error {
	if t != engine.ObjectCard && t != engine.ObjectNote {
		return engine.Validationf("object_type", "must be card or note, got %q", t)
	}
	return nil
}

func validateUsageType(t engine.ObjectType) error {
	if t != engine.ObjectCard && t != engine.ObjectNote && t != engine.ObjectInserter {
		return engine.Validationf("object_type", "must be card, note, or inserter, got %q", t)
	}
	return nil
}

func validateStatus(st engine.Status) error {
	if st != engine.StatusActive && st != engine.StatusOrphan {
		return engine.Validationf("status", "must be active or orphan, got %q", st)
	}
	return nil
}

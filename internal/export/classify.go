package export

// Classify determines the change kind from the existence of the before and
// after snapshots. IMPORT is never inferred here; only backfill assigns it.
func Classify(before, after Snapshot) (Operation, error) {
	switch {
	case !before.Exists && after.Exists:
		return OperationCreate, nil
	case before.Exists && !after.Exists:
		return OperationDelete, nil
	case before.Exists && after.Exists:
		return OperationUpdate, nil
	default:
		return "", ErrNoChange
	}
}

// DocumentID returns the identifier of the document touched by m.
func DocumentID(m Mutation) string {
	if m.After.Exists {
		return m.After.ID
	}
	return m.Before.ID
}

package memory

import "time"

// Migrate upgrades a record loaded with an older schema version to the
// current one. Returns true if the record was changed. Unknown (newer)
// versions are left untouched; the caller decides whether to reject them.
func Migrate(r *MemoryRecord) bool {
	if r.Version == SchemaVersion {
		return false
	}

	switch r.Version {
	case "1.0", "2.0":
		// Earlier versions predate the communication strategy block and
		// allowed zero timestamps.
		if r.Strategic.Strategy.Tone == "" {
			r.Strategic.Strategy.Tone = "friendly_and_supportive"
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		if r.UpdatedAt.Before(r.CreatedAt) {
			r.UpdatedAt = r.CreatedAt
		}
		r.Version = SchemaVersion
		return true
	default:
		return false
	}
}

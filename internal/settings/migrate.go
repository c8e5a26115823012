package settings

// MigrateV1ToV2 applies the additive-only v1→v2 migration (spec.md §4.2):
// for each new field, if absent (zero value in the unmarshaled v1 struct),
// set its default; never overwrite a value that was already present.
// Applying this to an already-v2 blob is the identity (spec.md §8): a
// blob whose schema_version is already CurrentSchemaVersion is returned
// unchanged, so an intentionally zero or false v2 value (e.g.
// ShowGroupAgeEnabled=false, AgingEnabled=false) is never "completed" by
// this function. Callers only invoke this when the stored
// version < CurrentSchemaVersion.
func MigrateV1ToV2(v1 Settings) Settings {
	if v1.SchemaVersion >= CurrentSchemaVersion {
		return v1
	}
	d := Defaults()
	v2 := v1

	if v2.TimeMode == "" {
		v2.TimeMode = d.TimeMode
	}
	if v2.Thresholds.GreenToYellow == 0 {
		v2.Thresholds.GreenToYellow = d.Thresholds.GreenToYellow
	}
	if v2.Thresholds.YellowToRed == 0 {
		v2.Thresholds.YellowToRed = d.Thresholds.YellowToRed
	}
	if v2.Thresholds.RedToGone == 0 {
		v2.Thresholds.RedToGone = d.Thresholds.RedToGone
	}
	if v2.YellowGroupName == "" {
		v2.YellowGroupName = d.YellowGroupName
	}
	if v2.RedGroupName == "" {
		v2.RedGroupName = d.RedGroupName
	}
	if v2.BookmarkFolderName == "" {
		v2.BookmarkFolderName = d.BookmarkFolderName
	}
	if v2.AutoNameDelayMinutes == 0 {
		v2.AutoNameDelayMinutes = d.AutoNameDelayMinutes
	}

	// v1 had no per-transition gates, no coloring/sorting/naming toggles —
	// a v1 blob unmarshaled into Settings leaves these false; v2 turns
	// them on by default unless the v1 blob is, implausibly, already
	// requesting them off via a hand-edited partial v2 blob. Since v1
	// never set these fields at all, "false" here unambiguously means
	// "absent from v1", so the nullish-coalesce semantics apply uniformly.
	if !v1.AgingEnabled {
		v2.AgingEnabled = d.AgingEnabled
	}
	if !v1.TabSortingEnabled {
		v2.TabSortingEnabled = d.TabSortingEnabled
	}
	if !v1.TabGroupSortingEnabled {
		v2.TabGroupSortingEnabled = d.TabGroupSortingEnabled
	}
	if !v1.TabGroupColoringEnabled {
		v2.TabGroupColoringEnabled = d.TabGroupColoringEnabled
	}
	if !v1.GreenToYellowEnabled {
		v2.GreenToYellowEnabled = d.GreenToYellowEnabled
	}
	if !v1.YellowToRedEnabled {
		v2.YellowToRedEnabled = d.YellowToRedEnabled
	}
	if !v1.RedToGoneEnabled {
		v2.RedToGoneEnabled = d.RedToGoneEnabled
	}
	if !v1.AutoGroupEnabled {
		v2.AutoGroupEnabled = d.AutoGroupEnabled
	}
	if !v1.AutoGroupNamingEnabled {
		v2.AutoGroupNamingEnabled = d.AutoGroupNamingEnabled
	}
	if !v1.BookmarkEnabled {
		v2.BookmarkEnabled = d.BookmarkEnabled
	}

	v2.SchemaVersion = CurrentSchemaVersion
	return v2
}

package chronicle

// Classification is the classifier's verdict on one attribute transition.
type Classification struct {
	Notable bool
	Changed []string
	Diff    ChangeSet
}

// Classify decides whether the transition from previous to current warrants
// a version and computes the minimal diff to persist. It is a pure function
// of its inputs: no side effects, and no error path. Ambiguous input
// degrades to a not-notable verdict.
//
// The decision pipeline:
//
//  1. attributes with differing values between the two snapshots
//  2. restricted to the Only allow-list when one is configured
//  3. minus Ignore and Skip entries (Ignore wins over Only)
//  4. when an ignored or skipped attribute changed, the remainder must
//     contain more than the record's own bookkeeping timestamps; a touch
//     that changes only updated_at alongside an ignored field is noise,
//     not history
//
// The returned diff covers exactly the notably changed attributes. Skip
// attributes never reach storage in any form.
func Classify(previous, current map[string]any, options TrackingOptions, rec Record) Classification {
	full := DiffAttributes(previous, current)
	if len(full) == 0 {
		return Classification{Diff: ChangeSet{}}
	}

	changed := make(map[string]bool, len(full))
	for key := range full {
		changed[key] = true
	}

	if len(options.Only) > 0 {
		allowed := make(map[string]bool, len(options.Only))
		for _, rule := range options.Only {
			if changed[rule.Name] && rule.applies(rec) {
				allowed[rule.Name] = true
			}
		}
		changed = allowed
	}

	ignoredChanged := false
	for _, rule := range options.Ignore {
		if _, ok := full[rule.Name]; ok && rule.applies(rec) {
			ignoredChanged = true
			delete(changed, rule.Name)
		}
	}
	for _, name := range options.Skip {
		if _, ok := full[name]; ok {
			ignoredChanged = true
			delete(changed, name)
		}
	}

	notably := make([]string, 0, len(changed))
	for key := range changed {
		notably = append(notably, key)
	}

	notable := len(notably) > 0
	if notable && ignoredChanged {
		timestamps := make(map[string]bool, 2)
		for _, column := range options.timestampColumns() {
			timestamps[column] = true
		}
		meaningful := 0
		for _, key := range notably {
			if !timestamps[key] {
				meaningful++
			}
		}
		notable = meaningful > 0
	}

	diff := full.Restrict(notably)
	return Classification{
		Notable: notable,
		Changed: diff.Keys(),
		Diff:    diff,
	}
}

package migrate

import (
	"fmt"

	"github.com/andrewkroh/pgsourcegen/internal/changelog"
)

// ExecType is the value stored in the exectype column of the changelog
// table.
type ExecType string

const (
	Executed ExecType = "EXECUTED"
	Reran    ExecType = "RERAN"
)

// AppliedChangeSet is a row of the changelog table.
type AppliedChangeSet struct {
	ID            string
	Author        string
	Filename      string
	Checksum      string
	OrderExecuted int
	ExecType      ExecType
}

func (a AppliedChangeSet) key() string {
	return a.Filename + "::" + a.ID + "::" + a.Author
}

// Step is a changeset selected for execution.
type Step struct {
	ChangeSet *changelog.ChangeSet
	ExecType  ExecType
}

// ChecksumError is returned when an applied changeset was modified and is
// not marked runOnChange.
type ChecksumError struct {
	ChangeSet string
	Stored    string
	Current   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("changeset %s was modified after it was applied (checksum %s, now %s)", e.ChangeSet, e.Stored, e.Current)
}

// Plan selects the changesets to run given the rows already recorded in
// the changelog table. Changesets whose context expression does not match
// contexts are skipped. An applied changeset runs again when it is marked
// runAlways, or when it is marked runOnChange and its checksum changed.
func Plan(changeSets []*changelog.ChangeSet, applied []AppliedChangeSet, contexts []string) ([]Step, error) {
	byKey := make(map[string]AppliedChangeSet, len(applied))
	for _, a := range applied {
		byKey[a.key()] = a
	}

	var steps []Step
	for _, cs := range changeSets {
		if !changelog.MatchContexts(cs.Contexts, contexts) {
			continue
		}

		prev, ok := byKey[cs.Key()]
		if !ok {
			steps = append(steps, Step{ChangeSet: cs, ExecType: Executed})
			continue
		}

		sum := cs.Checksum()
		switch {
		case prev.Checksum == "" || prev.Checksum == sum:
			if cs.RunAlways {
				steps = append(steps, Step{ChangeSet: cs, ExecType: Reran})
			}
		case cs.RunOnChange:
			steps = append(steps, Step{ChangeSet: cs, ExecType: Reran})
		default:
			return nil, &ChecksumError{ChangeSet: cs.Key(), Stored: prev.Checksum, Current: sum}
		}
	}
	return steps, nil
}

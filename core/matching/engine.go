package matching

import (
	"sort"
	"time"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
)

// Student is an unassigned student as seen by the engine.
type Student struct {
	ID           string
	Name         string
	Email        string
	Region       string
	Grade        string
	Slots        []string // availability labels
	RegisteredAt time.Time
}

func (s Student) hasSlot(slot string) bool {
	return core.ContainsString(s.Slots, slot)
}

// Pool is a snapshot of the students eligible for automatic matching.
type Pool struct {
	Students []Student
}

type StudentRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Candidate is a group the engine would create.
type Candidate struct {
	Region       string       `json:"bundesland"`
	Grade        string       `json:"klassenstufe"`
	Students     []StudentRef `json:"matching_students"`
	CommonSlots  []string     `json:"common_time_slots"`
	StudentCount int          `json:"student_count"`
}

func (c Candidate) StudentIDs() []string {
	ids := make([]string, 0, len(c.Students))
	for _, s := range c.Students {
		ids = append(ids, s.ID)
	}
	return ids
}

// Engine groups students of the same Bundesland and Klassenstufe around shared time slots.
type Engine struct {
	MinGroupSize int
	MaxGroupSize int
}

type cohortKey struct {
	region string
	grade  string
}

// Match computes candidates for `pool`. It is deterministic and does not modify `pool`.
//
// Per cohort it repeatedly picks the slot shared by the most remaining students (earliest slot
// on ties), takes up to MaxGroupSize of them in registration order, and records the slots common
// to all of them. It stops when no slot gathers MinGroupSize students.
func (e Engine) Match(pool Pool) []Candidate {
	minSize, maxSize := e.MinGroupSize, e.MaxGroupSize
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}

	cohorts := make(map[cohortKey][]Student)
	keys := make([]cohortKey, 0)
	for _, s := range pool.Students {
		if len(s.Slots) == 0 {
			continue
		}
		k := cohortKey{region: s.Region, grade: s.Grade}
		if _, ok := cohorts[k]; !ok {
			keys = append(keys, k)
		}
		cohorts[k] = append(cohorts[k], s)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].region != keys[j].region {
			return keys[i].region < keys[j].region
		}
		return keys[i].grade < keys[j].grade
	})

	candidates := make([]Candidate, 0)
	for _, k := range keys {
		candidates = append(candidates, matchCohort(k, cohorts[k], minSize, maxSize)...)
	}
	return candidates
}

func matchCohort(k cohortKey, students []Student, minSize, maxSize int) []Candidate {
	remaining := make([]Student, len(students))
	copy(remaining, students)
	sort.SliceStable(remaining, func(i, j int) bool {
		if !remaining[i].RegisteredAt.Equal(remaining[j].RegisteredAt) {
			return remaining[i].RegisteredAt.Before(remaining[j].RegisteredAt)
		}
		return remaining[i].ID < remaining[j].ID
	})

	var candidates []Candidate
	for len(remaining) >= minSize {
		slot, count := busiestSlot(remaining)
		if count < minSize {
			break
		}

		chosen := make([]Student, 0, maxSize)
		rest := make([]Student, 0, len(remaining))
		for _, s := range remaining {
			if len(chosen) < maxSize && s.hasSlot(slot) {
				chosen = append(chosen, s)
			} else {
				rest = append(rest, s)
			}
		}
		remaining = rest

		refs := make([]StudentRef, 0, len(chosen))
		for _, s := range chosen {
			refs = append(refs, StudentRef{ID: s.ID, Name: s.Name, Email: s.Email})
		}
		candidates = append(candidates, Candidate{
			Region:       k.region,
			Grade:        k.grade,
			Students:     refs,
			CommonSlots:  commonSlots(chosen),
			StudentCount: len(chosen),
		})
	}
	return candidates
}

// busiestSlot returns the slot declared by the most students, the earliest one on ties.
func busiestSlot(students []Student) (string, int) {
	counts := make(map[string]int)
	for _, s := range students {
		seen := make(map[string]bool, len(s.Slots))
		for _, slot := range s.Slots {
			if !seen[slot] {
				seen[slot] = true
				counts[slot]++
			}
		}
	}

	slots := make([]string, 0, len(counts))
	for slot := range counts {
		slots = append(slots, slot)
	}
	availability.SortLabels(slots)

	var (
		best  string
		count int
	)
	for _, slot := range slots {
		if counts[slot] > count {
			best, count = slot, counts[slot]
		}
	}
	return best, count
}

// commonSlots returns the slots shared by all `students`, in weekly order.
func commonSlots(students []Student) []string {
	if len(students) == 0 {
		return []string{}
	}
	common := make([]string, 0, len(students[0].Slots))
	for _, slot := range students[0].Slots {
		shared := true
		for _, s := range students[1:] {
			if !s.hasSlot(slot) {
				shared = false
				break
			}
		}
		if shared && !core.ContainsString(common, slot) {
			common = append(common, slot)
		}
	}
	availability.SortLabels(common)
	return common
}

package step

import "fmt"

// Sequence is an ordered list of uniquely named steps.
type Sequence struct {
	title string
	steps []Step
	ids   map[string]bool
}

// NewSequence returns an empty sequence. title prefixes each step's banner,
// for example "Build Step".
func NewSequence(title string) *Sequence {
	return &Sequence{title: title, ids: map[string]bool{}}
}

// Title returns the banner prefix.
func (s *Sequence) Title() string { return s.title }

// Add appends a step. Returns an error if the ID already exists.
func (s *Sequence) Add(st Step) error {
	if err := st.Info.Validate(); err != nil {
		return err
	}
	if st.Run == nil {
		return fmt.Errorf("step: run func is required for %s", st.Info.ID)
	}
	if s.ids[st.Info.ID] {
		return fmt.Errorf("step: %s already added", st.Info.ID)
	}
	s.ids[st.Info.ID] = true
	s.steps = append(s.steps, st)
	return nil
}

// MustAdd panics if Add fails.
func (s *Sequence) MustAdd(steps ...Step) {
	for _, st := range steps {
		if err := s.Add(st); err != nil {
			panic(err)
		}
	}
}

// Steps returns the steps in order.
func (s *Sequence) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// IDs returns step identifiers in order.
func (s *Sequence) IDs() []string {
	ids := make([]string, len(s.steps))
	for i, st := range s.steps {
		ids[i] = st.Info.ID
	}
	return ids
}

// Len returns the number of steps.
func (s *Sequence) Len() int { return len(s.steps) }

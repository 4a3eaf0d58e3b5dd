package bucket

// Assigner maps buckets to group labels using precomputed half-open
// ranges [lower, upper).
type Assigner struct {
	labels []string
	lower  []int
	upper  []int
}

// NewAssigner validates p and builds its bucket ranges.
func NewAssigner(p Proportions) (*Assigner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	a := &Assigner{
		labels: make([]string, len(p)),
		lower:  make([]int, len(p)),
		upper:  make([]int, len(p)),
	}
	cum := 0
	for i, s := range p {
		a.labels[i] = s.Label
		a.lower[i] = cum
		cum += s.Percent
		a.upper[i] = cum
	}
	return a, nil
}

// Label returns the group owning bucket b. Buckets outside every range fall
// back to the last group.
func (a *Assigner) Label(b int) string {
	for i := range a.labels {
		if b >= a.lower[i] && b < a.upper[i] {
			return a.labels[i]
		}
	}
	return a.labels[len(a.labels)-1]
}

// Assign returns the group for a canonical unit id under seed.
func (a *Assigner) Assign(seed, id string) string {
	return a.Label(Bucket(seed, id))
}

// AssignAll returns one label per id, in id order.
func (a *Assigner) AssignAll(seed string, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = a.Assign(seed, id)
	}
	return out
}

// Assign validates p and returns the group for id under seed.
func Assign(seed string, id any, p Proportions) (string, error) {
	a, err := NewAssigner(p)
	if err != nil {
		return "", err
	}
	s, err := CanonicalID(id)
	if err != nil {
		return "", err
	}
	return a.Assign(seed, s), nil
}

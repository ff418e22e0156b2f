package message

// Parameter is a single form parameter.
type Parameter struct {
	Name  string
	Value string
}

// Equal compares parameters by name, so adding a=3 replaces a=1.
func (p Parameter) Equal(o Parameter) bool {
	return p.Name == o.Name
}

func (p Parameter) String() string {
	return p.Name + "=" + p.Value
}

// ParameterSet is an ordered, deduplicated set of parameters.
type ParameterSet struct {
	*List[Parameter]
}

// NewParameterSet creates a parameter set from params, in order.
func NewParameterSet(params ...Parameter) *ParameterSet {
	s := &ParameterSet{List: NewList(Parameter.Equal)}
	for _, p := range params {
		s.Add(p)
	}
	return s
}

// Clone returns an independent copy.
func (s *ParameterSet) Clone() *ParameterSet {
	return &ParameterSet{List: s.List.Clone()}
}

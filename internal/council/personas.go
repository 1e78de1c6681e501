package council

// Persona is one fixed reviewer role fanned out to within a round.
type Persona struct {
	Name  string // map key and card tag, e.g. "legal"
	Role  string // role the generator is asked to play
	Focus string
}

// DefaultPersonas returns the standard three-member council.
func DefaultPersonas() []Persona {
	return []Persona{
		{
			Name:  "legal",
			Role:  "Corporate General Counsel",
			Focus: "Liability, IP ownership, termination rights, and contract traps.",
		},
		{
			Name:  "business",
			Role:  "Chief Operating Officer (COO)",
			Focus: "Operational viability, feature completeness vs. promise, and timeline realism.",
		},
		{
			Name:  "finance",
			Role:  "CFO & Audit Partner",
			Focus: "Hidden costs, payment terms, ROI, and financial risk.",
		},
	}
}

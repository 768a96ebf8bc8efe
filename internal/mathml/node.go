package mathml

// Node is one of the closed set of expression kinds below. Parse builds them
// and Generate consumes them; both switch exhaustively over the set.
type Node interface {
	isNode()
}

// FenceRole marks an operator that delimits a fenced group.
type FenceRole int

const (
	FenceNone FenceRole = iota
	FenceOpen
	FenceClose
)

// DecorationTag selects the overlay drawn above a decorated expression.
type DecorationTag string

const (
	DecorationNone     DecorationTag = ""
	DecorationOverline DecorationTag = "overline"
	DecorationDot      DecorationTag = "dot"
)

// Variable is an identifier leaf (mi).
type Variable struct {
	Value string
}

// Number is a numeric literal leaf (mn).
type Number struct {
	Value string
}

// Operator is an operator or fence leaf (mo).
type Operator struct {
	Value string
	Fence FenceRole
}

// Group is an ordered sequence of nodes. A fenced group starts with an
// opening Operator and ends with a closing one.
type Group struct {
	Items  []Node
	Fenced bool
}

// Subscript has exactly two children.
type Subscript struct {
	Base  Node
	Index Node
}

// Superscript has exactly two children.
type Superscript struct {
	Base     Node
	Exponent Node
}

// Decoration draws Tag over Body.
type Decoration struct {
	Tag  DecorationTag
	Body Node
}

// Function is a named construct: frac, sqrt, text, or a function name such
// as sin. Optional carries the root degree for sqrt.
type Function struct {
	Name     string
	Args     []Node
	Optional Node
}

func (Variable) isNode()    {}
func (Number) isNode()      {}
func (Operator) isNode()    {}
func (Group) isNode()       {}
func (Subscript) isNode()   {}
func (Superscript) isNode() {}
func (Decoration) isNode()  {}
func (Function) isNode()    {}

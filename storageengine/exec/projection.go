package exec

// ProjItem is one output column: either a straight pass-through of a
// child column, or an aliased rename.
type ProjItem struct {
	Src   TabCol
	Alias TabCol
}

// Projection maps the child's schema to a new column layout, per
// spec.md §4.7. Aggregate results (already keyed under their own
// TabCol by Aggregate) pass through unchanged when named directly.
type Projection struct {
	child Node
	items []ProjItem
	cur   Tuple
	ended bool
}

func NewProjection(child Node, items []ProjItem) *Projection {
	return &Projection{child: child, items: items}
}

func (p *Projection) Feed(bindings Tuple) { p.child.Feed(bindings) }

func (p *Projection) BeginTuple() error {
	if err := p.child.BeginTuple(); err != nil {
		return err
	}
	return p.project()
}

func (p *Projection) NextTuple() error {
	if err := p.child.NextTuple(); err != nil {
		return err
	}
	return p.project()
}

func (p *Projection) project() error {
	if p.child.IsEnd() {
		p.ended = true
		p.cur = nil
		return nil
	}
	src := p.child.Next()
	out := make(Tuple, len(p.items))
	for _, it := range p.items {
		out[it.Alias] = src[it.Src]
	}
	p.cur = out
	return nil
}

func (p *Projection) IsEnd() bool { return p.ended }
func (p *Projection) Next() Tuple { return p.cur }

func (p *Projection) GetBlock() ([]Tuple, error) {
	var block []Tuple
	for !p.IsEnd() {
		if p.cur != nil {
			block = append(block, p.cur)
		}
		if err := p.NextTuple(); err != nil {
			return nil, err
		}
	}
	return block, nil
}

func (p *Projection) Cols() []ColumnInfo {
	childCols := make(map[TabCol]ColumnInfo, len(p.child.Cols()))
	for _, c := range p.child.Cols() {
		childCols[TabCol{Table: c.Table, Col: c.Def.Name}] = c
	}
	cols := make([]ColumnInfo, 0, len(p.items))
	for _, it := range p.items {
		if c, ok := childCols[it.Src]; ok {
			c.Def.Name = it.Alias.Col
			cols = append(cols, ColumnInfo{Table: it.Alias.Table, Def: c.Def})
		}
	}
	return cols
}

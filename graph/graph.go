package graph

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/pickme-go/mapjoin/broadcast"
	"github.com/pickme-go/mapjoin/dataset"
)

// Join is the view of a broadcast join a plan is drawn from.
type Join interface {
	dataset.Stage
	Left() dataset.Stage
	Right() dataset.Stage
	Environment() string
	Handle() (broadcast.Handle, bool)
}

type Graph struct {
	parent   string
	ids      int
	vizGraph *gographviz.Graph
}

func NewGraph() *Graph {
	parent := `root`
	g := gographviz.NewGraph()
	if err := g.SetName(parent); err != nil {
		panic(err)
	}
	if err := g.SetDir(true); err != nil {
		panic(err)
	}

	if err := g.AddAttr(parent, `rankdir`, `LR`); err != nil {
		panic(err)
	}

	if err := g.AddNode(parent, `def`, map[string]string{
		`shape`: `plaintext`,
		`label`: `<
     		<table BORDER="0" CELLBORDER="1" CELLSPACING="0">
       			<tr><td WIDTH="50" BGCOLOR="deepskyblue1"></td><td><B>Source</B></td></tr>
       			<tr><td WIDTH="50" BGCOLOR="slateblue4"></td> <td><B>Processor</B></td></tr>
       			<tr><td WIDTH="50" BGCOLOR="grey95"></td><td><B>Broadcast</B></td></tr>
       			<tr><td WIDTH="50" BGCOLOR="orange"></td><td><B>Join</B></td></tr>
     		</table>

  >`,
	}); err != nil {
		panic(err)
	}

	return &Graph{
		parent:   parent,
		vizGraph: g,
	}
}

func (g *Graph) id(prefix string) string {
	g.ids++
	return fmt.Sprintf(`%s_%d`, prefix, g.ids)
}

func (g *Graph) Source(name string, attrs map[string]string) {
	attrs[`color`] = `black`
	attrs[`fillcolor`] = `deepskyblue1`
	attrs[`style`] = `filled`
	attrs[`shape`] = `oval`
	if err := g.vizGraph.AddNode(g.parent, name, attrs); err != nil {
		panic(err)
	}
}

func (g *Graph) Processor(parent string, name string, attrs map[string]string) {
	attrs[`fontcolor`] = `grey100`
	attrs[`fillcolor`] = `slateblue4`
	attrs[`style`] = `filled`
	attrs[`shape`] = `square`
	if err := g.vizGraph.AddNode(g.parent, name, attrs); err != nil {
		panic(err)
	}

	g.Edge(parent, name, nil)
}

func (g *Graph) Broadcast(parent string, name string, attrs map[string]string) {
	attrs[`shape`] = `cylinder`
	attrs[`fillcolor`] = `grey95`
	attrs[`style`] = `filled`
	if err := g.vizGraph.AddNode(g.parent, name, attrs); err != nil {
		panic(err)
	}

	g.Edge(parent, name, map[string]string{`style`: `dashed`, `label`: `"materialize"`})
}

func (g *Graph) Joiner(left string, name string, side string, attrs map[string]string) {
	attrs[`color`] = `black`
	attrs[`fillcolor`] = `orange`
	attrs[`style`] = `filled`
	attrs[`shape`] = `square`
	if err := g.vizGraph.AddNode(g.parent, name, attrs); err != nil {
		panic(err)
	}

	g.Edge(left, name, map[string]string{`label`: `"stream"`})
	g.Edge(side, name, map[string]string{`style`: `dashed`, `label`: `"probe"`})
}

func (g *Graph) Edge(parent string, name string, attrs map[string]string) {
	if err := g.vizGraph.AddEdge(parent, name, true, attrs); err != nil {
		panic(err)
	}
}

func (g *Graph) Build() string {
	return g.vizGraph.String()
}

// stage draws s and everything it is derived from, returning the node of s.
func (g *Graph) stage(s dataset.Stage) string {
	label := quote(fmt.Sprintf(`%s\npartitions:%d`, s.Name(), s.Partitions()))

	derived, ok := s.(dataset.Derived)
	if !ok {
		name := g.id(`source`)
		g.Source(name, map[string]string{`label`: label})
		return name
	}

	parent := g.stage(derived.Upstream())
	name := g.id(`processor`)
	g.Processor(parent, name, map[string]string{`label`: label})

	return name
}

// Plan renders the stage of j as a graphviz DOT document.
func Plan(j Join) string {
	g := NewGraph()

	left := g.stage(j.Left())
	right := g.stage(j.Right())

	side := g.id(`broadcast`)
	label := `broadcast\nnot registered`
	if h, ok := j.Handle(); ok {
		label = `broadcast\n` + h.String()
	}
	g.Broadcast(right, side, map[string]string{`label`: quote(label)})

	g.Joiner(left, g.id(`join`), side, map[string]string{
		`label`: quote(fmt.Sprintf(`INNER JOIN\n%s\nenv:%s\npartitions:%d`, j.Name(), j.Environment(), j.Partitions())),
	})

	return g.Build()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

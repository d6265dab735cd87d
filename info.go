package mapjoin

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
)

// Info renders the plan of the join as a table.
func (j *MapsideJoin[K, V1, V2]) Info() string {
	budget := `unbounded`
	if j.budget > 0 {
		budget = fmt.Sprintf(`%d bytes`, j.budget)
	}

	handle := `not registered`
	if h, ok := j.Handle(); ok {
		handle = fmt.Sprintf(`%s (%d bytes)`, h, h.Size)
	}

	data := [][]string{
		{`mapjoin.Name`, j.config.Name},
		{`mapjoin.Environment`, j.env.Name()},
		{`mapjoin.Left (streamed)`, j.left.Name()},
		{`mapjoin.Left.Partitions`, fmt.Sprint(j.left.Partitions())},
		{`mapjoin.Right (broadcast)`, j.right.Name()},
		{`mapjoin.Right.Partitions`, fmt.Sprint(j.right.Partitions())},
		{`mapjoin.KeyCodec`, fmt.Sprintf(`%T`, j.keys)},
		{`mapjoin.ValueCodec`, fmt.Sprintf(`%T`, j.values)},
		{`mapjoin.MemoryBudget`, budget},
		{`mapjoin.Broadcast`, handle},
	}

	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{"Config", "Value"})

	for _, v := range data {
		table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
		table.Append(v)
	}
	table.Render()

	return b.String()
}

package parquet

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/pickme-go/mapjoin/dataset"
	mjErrors "github.com/pickme-go/mapjoin/errors"
	"github.com/stretchr/testify/require"
)

type order struct {
	CustomerID int64  `parquet:"customer_id"`
	Item       string `parquet:"item"`
}

func customerID(o order) (int64, error) {
	return o.CustomerID, nil
}

func writeOrders(t *testing.T, dir, name string, orders ...order) string {
	path := filepath.Join(dir, name)
	require.NoError(t, parquet.WriteFile(path, orders))
	return path
}

func TestTyped(t *testing.T) {
	dir := t.TempDir()

	var many []order
	for i := 0; i < 300; i++ {
		many = append(many, order{CustomerID: int64(i % 3), Item: fmt.Sprint(`item-`, i)})
	}

	ds := Typed(`orders`, customerID,
		writeOrders(t, dir, `a.parquet`, order{111, `Corn flakes`}, order{222, `Toilet paper`}),
		writeOrders(t, dir, `b.parquet`, many...),
	)
	require.Equal(t, 2, ds.Partitions())

	first, err := dataset.ReadPartition[int64, order](context.Background(), ds, 0)
	require.NoError(t, err)
	require.Equal(t, []dataset.Pair[int64, order]{
		dataset.PairOf(int64(111), order{111, `Corn flakes`}),
		dataset.PairOf(int64(222), order{222, `Toilet paper`}),
	}, first)

	second, err := dataset.ReadPartition[int64, order](context.Background(), ds, 1)
	require.NoError(t, err)
	require.Len(t, second, 300)
	require.Equal(t, `item-299`, second[299].Value.Item)
}

func TestGeneric(t *testing.T) {
	path := writeOrders(t, t.TempDir(), `a.parquet`, order{111, `Corn flakes`}, order{222, `Toilet paper`})

	ds := Generic(`orders`, Column[int64](`customer_id`), path)
	pairs, err := dataset.ReadAll[int64, Record](context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, int64(222), pairs[1].Key)
	require.Equal(t, `Toilet paper`, pairs[1].Value[`item`])

	wrong := Generic(`orders`, Column[string](`customer_id`), path)
	_, err = dataset.ReadAll[string, Record](context.Background(), wrong)
	require.True(t, mjErrors.IsKind(err, mjErrors.UpstreamReadFailure))
}

func TestTyped_HTTP(t *testing.T) {
	dir := t.TempDir()
	writeOrders(t, dir, `remote.parquet`, order{333, `Toilet brush`})

	server := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer server.Close()

	ds := Typed(`orders`, customerID, server.URL+`/remote.parquet`)
	pairs, err := dataset.ReadAll[int64, order](context.Background(), ds)
	require.NoError(t, err)
	require.Equal(t, []dataset.Pair[int64, order]{dataset.PairOf(int64(333), order{333, `Toilet brush`})}, pairs)
}

func TestTyped_MissingFile(t *testing.T) {
	ds := Typed(`orders`, customerID, filepath.Join(t.TempDir(), `missing.parquet`))
	_, err := ds.Read(context.Background(), 0)
	require.True(t, mjErrors.IsKind(err, mjErrors.UpstreamReadFailure))
}

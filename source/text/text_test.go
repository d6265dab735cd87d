package text

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pickme-go/mapjoin/dataset"
	mjErrors "github.com/pickme-go/mapjoin/errors"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDataset(t *testing.T) {
	ds := NewDataset(`customers`, Separated(`|`, strconv.Atoi, String),
		write(t, `a.txt`, "111|John Doe\n\n222|Jane Doe\r\n"),
		write(t, `b.txt`, "333|Someone Else|VIP\n"),
	)
	require.Equal(t, 2, ds.Partitions())

	pairs, err := dataset.ReadAll[int, string](context.Background(), ds)
	require.NoError(t, err)
	require.Equal(t, []dataset.Pair[int, string]{
		dataset.PairOf(111, `John Doe`),
		dataset.PairOf(222, `Jane Doe`),
		dataset.PairOf(333, `Someone Else|VIP`),
	}, pairs)
}

func TestDataset_ParseFailure(t *testing.T) {
	ds := NewDataset(`customers`, Separated(`|`, strconv.Atoi, String),
		write(t, `a.txt`, "111|John Doe\nabc|Broken\n"))

	_, err := dataset.ReadAll[int, string](context.Background(), ds)
	require.True(t, mjErrors.IsKind(err, mjErrors.UpstreamReadFailure))
}

func TestDataset_MissingFile(t *testing.T) {
	ds := NewDataset(`customers`, Separated(`|`, strconv.Atoi, String), filepath.Join(t.TempDir(), `missing.txt`))

	_, err := ds.Read(context.Background(), 0)
	require.True(t, mjErrors.IsKind(err, mjErrors.UpstreamReadFailure))

	_, err = ds.Read(context.Background(), 1)
	require.Error(t, err)
}

package transaction

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `trans_date_trans_time,merchant,category,amt,city,state,lat,long,city_pop,job,dob,trans_num,merch_lat,merch_long,is_fraud
2020-06-15 10:00:00,fraud_Kirlin,grocery_pos,107.23,Orient,WA,48.8878,-118.2105,149,Air traffic controller,1978-06-21,1f76529f,49.159047,-118.186462,0
2020-06-15 23:12:08,fraud_Sporer,shopping_net,949.10,Boulder,CO,40.0150,-105.2705,105000,Nurse,,a9b2,40.1,-105.3,1
`

func TestReadCSV(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 2, table.Len())
	assert.Len(t, table.Header, 15)
	assert.True(t, table.Has("dob"))
	assert.False(t, table.Has("prediction"))
	assert.Equal(t, []string{"grocery_pos", "shopping_net"}, table.Column("category"))
	assert.Nil(t, table.Column("missing"))
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestTable_Batch(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	batch, err := table.Batch()
	require.NoError(t, err)

	assert.True(t, batch.HasDOB)
	assert.True(t, batch.HasLabels)
	require.Len(t, batch.Records, 2)

	first := batch.Records[0]
	assert.Equal(t, "grocery_pos", first.Category)
	assert.InDelta(t, 107.23, first.Amount, 1e-9)
	assert.Equal(t, "1978-06-21", first.DOB)
	require.NotNil(t, first.IsFraud)
	assert.False(t, first.Fraud())

	second := batch.Records[1]
	assert.Equal(t, "", second.DOB)
	assert.True(t, second.Fraud())

	assert.Equal(t, []bool{false, true}, batch.Labels())
}

func TestTable_BatchMissingColumn(t *testing.T) {
	table, err := ReadCSV(strings.NewReader("trans_date_trans_time,category,amt\n2020-01-01 00:00:00,home,1\n"))
	require.NoError(t, err)

	_, err = table.Batch()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "merch_lat")
}

func TestTable_BatchUnparseableNumbers(t *testing.T) {
	csv := strings.Replace(sampleCSV, "107.23", "n/a", 1)
	csv = strings.Replace(csv, ",149,", ",,", 1)
	table, err := ReadCSV(strings.NewReader(csv))
	require.NoError(t, err)

	batch, err := table.Batch()
	require.NoError(t, err)

	assert.True(t, math.IsNaN(batch.Records[0].Amount))
	assert.True(t, math.IsNaN(batch.Records[0].CityPop))
}

func TestTable_BatchLabelSpellings(t *testing.T) {
	row := "2020-06-15 10:00:00,m,grocery_pos,1,c,WA,1,1,1,j,,t%d,1,1,%s\n"
	labels := []string{"1.0", " True ", "0.0", "FALSE", "2", "yes", ""}
	var sb strings.Builder
	sb.WriteString(strings.SplitN(sampleCSV, "\n", 2)[0] + "\n")
	for i, l := range labels {
		sb.WriteString(fmt.Sprintf(row, i, l))
	}

	table, err := ReadCSV(strings.NewReader(sb.String()))
	require.NoError(t, err)
	batch, err := table.Batch()
	require.NoError(t, err)
	require.Len(t, batch.Records, len(labels))

	want := []*bool{ptr(true), ptr(true), ptr(false), ptr(false), ptr(true), nil, nil}
	for i, w := range want {
		assert.Equal(t, w, batch.Records[i].IsFraud, "label %q", labels[i])
	}
}

func ptr(b bool) *bool { return &b }

func TestTable_WithColumnAndWithout(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	out, err := table.WithColumn("prediction", []string{"Normal Transaction", "Fraud Transaction"})
	require.NoError(t, err)
	out = out.Without("is_fraud")

	assert.Equal(t, "prediction", out.Header[len(out.Header)-1])
	assert.False(t, out.Has("is_fraud"))
	assert.Equal(t, []string{"Normal Transaction", "Fraud Transaction"}, out.Column("prediction"))
	assert.Equal(t, []string{"fraud_Kirlin", "fraud_Sporer"}, out.Column("merchant"))

	// source table is untouched
	assert.True(t, table.Has("is_fraud"))
	assert.False(t, table.Has("prediction"))

	_, err = table.WithColumn("prediction", []string{"only one"})
	assert.Error(t, err)
}

func TestTable_WithColumnReplaces(t *testing.T) {
	table := NewTable([]string{"a", "prediction"}, [][]string{{"1", "old"}})

	out, err := table.WithColumn("prediction", []string{"new"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "prediction"}, out.Header)
	assert.Equal(t, []string{"new"}, out.Column("prediction"))
}

func TestTable_SaveAndLoadCSV(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "predictions.csv")
	require.NoError(t, table.SaveCSV(path))

	loaded, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, table.Header, loaded.Header)
	assert.Equal(t, table.Rows, loaded.Rows)

	var buf bytes.Buffer
	require.NoError(t, table.Head(1).WriteCSV(&buf))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	_, err = LoadCSV(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

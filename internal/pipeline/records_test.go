package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/promiselink/internal/model"
)

func TestParseRecords_YAML(t *testing.T) {
	set, err := ParseRecords([]byte(`
promises:
  - id: jt
    text: Introduce Just Transition legislation
    responsible_department: Natural Resources Canada
    keywords: [just transition, energy workers]
    parliament_session_id: "44-1"
evidence:
  - id: c50
    title: "Bill C-50: Sustainable Jobs Act"
    source_type: Bill Event (LEGISinfo)
    date: 2024-06-20
    departments: [Natural Resources]
  - id: tweet1
    title: Minister posts on social media
    source_type: tweet
    date: last tuesday
`))
	require.NoError(t, err)

	require.Len(t, set.Promises, 1)
	assert.Equal(t, []string{"just transition", "energy workers"}, set.Promises[0].Keywords)
	assert.Equal(t, "44-1", set.Promises[0].ParliamentSessionID)

	require.Len(t, set.Evidence, 2)
	assert.Equal(t, model.SourceBillEvent, set.Evidence[0].SourceType)
	assert.Equal(t, time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC), set.Evidence[0].Date)
	assert.Equal(t, model.SourceOther, set.Evidence[1].SourceType)

	require.Len(t, set.Rejected, 1)
	assert.Equal(t, "tweet1", set.Rejected[0].ID)
	assert.Contains(t, set.Rejected[0].Reason, "unknown source type")
	assert.Contains(t, set.Rejected[0].Reason, "unparseable date")
}

func TestReadRecords_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "evidence": [
    {"id": "r1", "title": "Clean Electricity Regulations", "source_type": "regulation", "date": "2024-12-17T00:00:00Z"}
  ]
}`), 0o644))

	set, err := ReadRecords(path)
	require.NoError(t, err)
	assert.Empty(t, set.Promises)
	require.Len(t, set.Evidence, 1)
	assert.Equal(t, model.SourceRegulation, set.Evidence[0].SourceType)
	assert.Empty(t, set.Rejected)
}

func TestParseRecords_MissingID(t *testing.T) {
	_, err := ParseRecords([]byte("promises:\n  - text: no id\n"))
	assert.ErrorContains(t, err, "promise #1: missing id")

	_, err = ParseRecords([]byte("evidence:\n  - title: no id\n"))
	assert.ErrorContains(t, err, "evidence #1: missing id")
}

func TestReadRecords_MissingFile(t *testing.T) {
	_, err := ReadRecords(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

package progress

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReporter_ThrottlesWithinInterval(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, time.Hour)

	count := int64(100)
	r.Report("t", 1, &count)
	r.Report("t", 2, &count)

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 1, lines)
	assert.Contains(t, buf.String(), "1/~100")
}

func TestReporter_DoneBypassesThrottle(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, time.Hour)
	r.Report("t", 1, nil)
	r.Done("t", 1)
	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 2, lines)
	assert.Contains(t, buf.String(), "done, 1 rows")
}

func TestReporter_NilApproxCountOmitsPercentage(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, time.Hour)
	r.Report("t", 5, nil)
	assert.Contains(t, buf.String(), "5 rows")
	assert.NotContains(t, buf.String(), "%")
}

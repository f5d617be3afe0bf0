package trace

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppend_WritesCSVLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithWriter(&buf, nil)

	s.Append(time.Unix(0, 0).UTC(), 1000, 950, 940)

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "1970-01-01T00:00:00Z,1000,950,940"))
}

func TestAppend_SerializesConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithWriter(&buf, nil)

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			s.Append(time.Now(), 1, 2, 3)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 20, lines)
}

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	oldV, oldC, oldD := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = oldV, oldC, oldD })

	Version, GitCommit, BuildDate = "1.2.0", "abc123", "2026-01-02"
	assert.Equal(t, "1.2.0 (commit abc123, built 2026-01-02)", String())

	v, c, d := Info()
	assert.Equal(t, []string{"1.2.0", "abc123", "2026-01-02"}, []string{v, c, d})
}

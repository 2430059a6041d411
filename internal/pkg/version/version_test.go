package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgent(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })

	Version = "1.2.3"
	GitCommit = "0123456789abcdef"
	assert.Equal(t, "notibridge/1.2.3 (0123456)", UserAgent())

	GitCommit = "unknown"
	assert.Equal(t, "notibridge/1.2.3 (unknown)", UserAgent())
	assert.Contains(t, GetFullVersion(), "1.2.3 (commit: unknown")
}

package provider

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBAMProviderMissingFile(t *testing.T) {
	b := &BAMProvider{Path: filepath.Join(t.TempDir(), "nope.bam")}
	_, err := b.Header()
	require.Error(t, err)
	_, err = b.NewIterator("chr1", 0, 100)
	require.Error(t, err)
	// The first failure sticks and surfaces again at Close.
	require.Error(t, b.Close())
}

func TestBAMProviderIndexPath(t *testing.T) {
	b := &BAMProvider{Path: "/data/sample.bam"}
	require.Equal(t, "/data/sample.bam.bai", b.indexPath())
	b.Index = "/data/other.bai"
	require.Equal(t, "/data/other.bai", b.indexPath())
}

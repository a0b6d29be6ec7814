package util

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestNearest(t *testing.T) {
	names := []string{"control", "treated"}
	expect.EQ(t, Nearest("contrl", names), "control")
	expect.EQ(t, Nearest("treatd", names), "treated")
	// Everything is too far away to be a typo.
	expect.EQ(t, Nearest("ivt", names), "")
	expect.EQ(t, Nearest("x", nil), "")
}

func TestNearestTieKeepsFirst(t *testing.T) {
	expect.EQ(t, Nearest("chr3", []string{"chr1", "chr2"}), "chr1")
}

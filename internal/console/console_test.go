package console

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainStepBannerUnderlinesTitle(t *testing.T) {
	var out bytes.Buffer
	c := New(&out, WithPlain())
	c.Step("Build Step 3: Check repos", "AUTO")
	assert.Equal(t, "\n\nBuild Step 3: Check repos\n-------------------------\n", out.String())
}

func TestPlainInstructionsAreVerbatim(t *testing.T) {
	var out bytes.Buffer
	c := New(&out, WithPlain())
	c.Instructions("* Log in to https://central.sonatype.com\n* Click **Publish**\n\n")
	c.Note("Test mode: Skipping push to GitHub!")
	assert.Equal(t, "* Log in to https://central.sonatype.com\n* Click **Publish**\nTest mode: Skipping push to GitHub!\n", out.String())
}

func TestStyledOutputKeepsText(t *testing.T) {
	var out bytes.Buffer
	c := New(&out)
	c.Step("Push Step 1: Checking versions", "AUTO")
	c.Banner("TEST MODE")
	c.Instructions("Publish the artifacts.")
	assert.Contains(t, out.String(), "Push Step 1: Checking versions")
	assert.Contains(t, out.String(), "TEST MODE")
	assert.Contains(t, out.String(), "Publish")
}
